package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembersOfUnknownGroup(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.MembersOf("ghost")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestSetAndFetchGroup(t *testing.T) {
	store := NewMemoryStore()
	store.SetGroup("lobby-screens", []string{"d1", "d2", "d3"})

	members, err := store.MembersOf("lobby-screens")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1", "d2", "d3"}, members)
}

func TestSnapshotIsolatedFromMutation(t *testing.T) {
	store := NewMemoryStore()
	store.SetGroup("g1", []string{"d1"})

	members, err := store.MembersOf("g1")
	require.NoError(t, err)

	store.SetGroup("g1", []string{"d1", "d2"})

	assert.Len(t, members, 1, "a fan-out's snapshot must not see later mutations")
}

func TestDeleteGroup(t *testing.T) {
	store := NewMemoryStore()
	store.SetGroup("g1", []string{"d1"})
	store.DeleteGroup("g1")

	_, err := store.MembersOf("g1")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}
