package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pane-pilot/internal/model"
	"github.com/timvw/pane-pilot/internal/mux"
	"github.com/timvw/pane-pilot/internal/mux/muxtest"
)

func shellPane(target string) model.Pane {
	p, err := model.ParseTarget(target)
	if err != nil {
		panic(err)
	}
	p.Command = "zsh"
	return p
}

func TestDiscoverPane(t *testing.T) {
	withTree := shellPane("dev:1.0")
	withTree.Command = "node"
	withTree.ProcessTree = []string{"node /usr/local/bin/claude --resume"}
	withID := shellPane("dev:0.1")
	withID.ID = "%7"

	tests := []struct {
		name     string
		panes    []model.Pane
		captures map[string]string
		target   string
		want     string
		wantErr  error
	}{
		{
			name:  "command names assistant",
			panes: []model.Pane{shellPane("dev:0.0"), assistantPane("dev:0.1")},
			want:  "dev:0.1",
		},
		{
			name:  "process tree names assistant",
			panes: []model.Pane{shellPane("dev:0.0"), withTree},
			want:  "dev:1.0",
		},
		{
			name:     "content markers",
			panes:    []model.Pane{shellPane("dev:0.0"), shellPane("dev:0.1")},
			captures: map[string]string{"dev:0.1": "╭──╮\n│ > │\n╰──╯\n  ? for shortcuts"},
			want:     "dev:0.1",
		},
		{
			name:  "falls back to first pane",
			panes: []model.Pane{shellPane("dev:0.2"), shellPane("dev:0.1")},
			want:  "dev:0.1",
		},
		{
			name:   "explicit target",
			panes:  []model.Pane{assistantPane("dev:0.0"), shellPane("dev:0.1")},
			target: "dev:0.1",
			want:   "dev:0.1",
		},
		{
			name:   "explicit pane id",
			panes:  []model.Pane{assistantPane("dev:0.0"), withID},
			target: "%7",
			want:   "dev:0.1",
		},
		{
			name:    "explicit target missing",
			panes:   []model.Pane{assistantPane("dev:0.0")},
			target:  "dev:3.0",
			wantErr: mux.ErrPaneNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := muxtest.New(tt.panes...)
			for target, text := range tt.captures {
				f.SetCapture(target, text)
			}
			sess := model.GroupPanes(tt.panes)[0]

			got, err := discoverPane(context.Background(), sess, tt.target, NewReader(f))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Target)
		})
	}
}

func TestDiscoverPane_EmptySession(t *testing.T) {
	_, err := discoverPane(context.Background(), model.Session{Name: "dev"}, "", nil)
	require.ErrorIs(t, err, mux.ErrPaneNotFound)
}
