package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectKey(t *testing.T) {
	tests := []struct {
		name      string
		projectID string
		path      string
		want      string
		wantErr   bool
	}{
		{name: "simple", projectID: "p1", path: "plans/site.pdf", want: "projects/p1/plans/site.pdf"},
		{name: "leading slash", projectID: "p1", path: "/site.pdf", want: "projects/p1/site.pdf"},
		{name: "empty path", projectID: "p1", path: "", wantErr: true},
		{name: "dot dot", projectID: "p1", path: "../p2/site.pdf", wantErr: true},
		{name: "inner dot dot", projectID: "p1", path: "plans/../../p2/x", wantErr: true},
		{name: "double slash", projectID: "p1", path: "plans//x", wantErr: true},
		{name: "slash in project", projectID: "p1/p2", path: "x", wantErr: true},
		{name: "empty project", projectID: "", path: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProjectKey(tt.projectID, tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			projectID, err := ProjectOf(got)
			require.NoError(t, err)
			assert.Equal(t, tt.projectID, projectID)
		})
	}
}

func TestProjectOf_Rejects(t *testing.T) {
	for _, key := range []string{
		"",
		"plans/site.pdf",
		"projects/p1",
		"projects//site.pdf",
		"projects/p1/../p2/site.pdf",
	} {
		_, err := ProjectOf(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
