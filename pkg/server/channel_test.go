package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmallard/chatd/pkg/database"
)

func TestChannelCreatorIsMemberAndAdmin(t *testing.T) {
	ch := NewChannel(1, "#general", "general chat", "", 42)

	assert.True(t, ch.IsMember(42))
	assert.True(t, ch.IsAdmin(42))
	assert.Equal(t, 1, ch.MemberCount())
}

func TestChannelAddMemberIdempotent(t *testing.T) {
	ch := NewChannel(1, "#general", "", "", 42)

	assert.True(t, ch.AddMember(7))
	assert.Equal(t, 2, ch.MemberCount())

	// Re-adding reports failure and leaves the set unchanged.
	assert.False(t, ch.AddMember(7))
	assert.Equal(t, 2, ch.MemberCount())
	assert.True(t, ch.IsMember(7))
	assert.False(t, ch.IsAdmin(7))
}

func TestChannelFromRecord(t *testing.T) {
	rec := &database.ChannelRecord{
		ID:          3,
		Name:        "#ops",
		Description: "operations",
		JoinKey:     "secret",
		CreatorID:   1,
		Members:     []int64{1, 2, 3},
		Admins:      []int64{1},
	}

	ch := ChannelFromRecord(rec)
	assert.Equal(t, "#ops", ch.Name)
	assert.Equal(t, "secret", ch.JoinKey)
	assert.Equal(t, 3, ch.MemberCount())
	assert.True(t, ch.IsMember(2))
	assert.True(t, ch.IsAdmin(1))
	assert.False(t, ch.IsAdmin(2))
}

func TestChannelMemberSnapshot(t *testing.T) {
	ch := NewChannel(1, "#general", "", "", 0)
	ch.AddMember(1)
	ch.AddMember(2)

	snapshot := ch.MemberIDs()
	ch.AddMember(3)

	// The snapshot taken before the add is unaffected.
	assert.ElementsMatch(t, []int64{1, 2}, snapshot)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ch.MemberIDs())
}

func TestChannelRegistryLookups(t *testing.T) {
	reg := NewChannelRegistry()
	require.Equal(t, 0, reg.Count())

	reg.Add(NewChannel(1, "#general", "", "", 0))
	reg.Add(NewChannel(2, "#random", "", "", 0))

	byID, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, "#general", byID.Name)

	byName, ok := reg.GetByName("#random")
	require.True(t, ok)
	assert.Equal(t, int64(2), byName.ID)

	_, ok = reg.GetByName("#missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"#general", "#random"}, reg.Names())
}
