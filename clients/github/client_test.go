package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasAdminAccess_OnlyAdminMayManageWebhooks(t *testing.T) {
	tests := []struct {
		permission string
		want       bool
	}{
		{"ADMIN", true},
		{"MAINTAIN", false},
		{"WRITE", false},
		{"READ", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run("viewerPermission "+tt.permission, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/graphql", r.URL.Path)
				require.Equal(t, "Bearer gho_tok", r.Header.Get("Authorization"))
				fmt.Fprintf(w, `{"data":{"repository":{"viewerPermission":%q}}}`, tt.permission)
			}))
			defer server.Close()

			client, err := NewGitHubClient(server.URL, "", nil)
			require.NoError(t, err)

			got, err := client.HasAdminAccess(context.Background(), "gho_tok", "acme", "widgets")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
