package zid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Unique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 1000; i++ {
		id := New()
		_, dup := seen[id.String()]
		require.False(t, dup, "id %s was generated twice", id)
		seen[id.String()] = struct{}{}
	}
}

func TestToTID(t *testing.T) {
	id := New()
	assert.Equal(t, id.String()+"-42", id.ToTID(42))
}

func TestFromString(t *testing.T) {
	id := New()
	got, err := FromString(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, raw := range []string{"", "not-an-id", "unknown", id.ToTID(0)} {
		_, err := FromString(raw)
		if err == nil {
			t.Errorf("ERROR: got nil error for %q, want an error", raw)
		}
	}
}
