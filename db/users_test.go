package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeSetsEqual(t *testing.T) {
	tests := []struct {
		name string
		a    []string
		b    []string
		want bool
	}{
		{
			"identical",
			[]string{"prebuilds"},
			[]string{"prebuilds"},
			true,
		},
		{
			"order does not matter",
			[]string{"prebuilds", "https://gitlab.com/acme/widgets.git"},
			[]string{"https://gitlab.com/acme/widgets.git", "prebuilds"},
			true,
		},
		{
			// Per-repo webhook secrets share the primary scope but differ
			// in the clone URL scope; one must never replace the other.
			"shared primary scope, different repository",
			[]string{"prebuilds", "https://gitlab.com/acme/widgets.git"},
			[]string{"prebuilds", "https://gitlab.com/acme/gadgets.git"},
			false,
		},
		{
			"subset",
			[]string{"prebuilds"},
			[]string{"prebuilds", "https://gitlab.com/acme/widgets.git"},
			false,
		},
		{
			"disjoint",
			[]string{"dashboard"},
			[]string{"prebuilds"},
			false,
		},
		{
			"both empty",
			nil,
			[]string{},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scopeSetsEqual(tt.a, tt.b))
			assert.Equal(t, tt.want, scopeSetsEqual(tt.b, tt.a))
		})
	}
}
