package server

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/jmallard/chatd/pkg/database"
)

// Channel is the in-memory view of a named group-messaging destination.
// Member and admin sets are thread-safe; the rest of the fields are
// immutable after construction. Channels are never destroyed during the
// process lifetime.
type Channel struct {
	ID          int64
	Name        string
	Description string
	JoinKey     string
	CreatorID   int64

	members mapset.Set[int64]
	admins  mapset.Set[int64]
}

// NewChannel builds a channel with the creator as its first member and
// admin.
func NewChannel(id int64, name, description, joinKey string, creatorID int64) *Channel {
	ch := &Channel{
		ID:          id,
		Name:        name,
		Description: description,
		JoinKey:     joinKey,
		CreatorID:   creatorID,
		members:     mapset.NewSet[int64](),
		admins:      mapset.NewSet[int64](),
	}
	if creatorID != 0 {
		ch.members.Add(creatorID)
		ch.admins.Add(creatorID)
	}
	return ch
}

// ChannelFromRecord builds a channel from its persisted form.
func ChannelFromRecord(rec *database.ChannelRecord) *Channel {
	ch := &Channel{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		JoinKey:     rec.JoinKey,
		CreatorID:   rec.CreatorID,
		members:     mapset.NewSet(rec.Members...),
		admins:      mapset.NewSet(rec.Admins...),
	}
	return ch
}

// AddMember adds a user to the member set. Returns false if the user was
// already a member; the set is unchanged in that case.
func (c *Channel) AddMember(userID int64) bool {
	return c.members.Add(userID)
}

// RemoveMember drops a user from the member set. Only used to roll back
// an in-memory add when the store rejects the membership.
func (c *Channel) RemoveMember(userID int64) {
	c.members.Remove(userID)
}

// IsMember reports whether the user belongs to the channel.
func (c *Channel) IsMember(userID int64) bool {
	return c.members.Contains(userID)
}

// AddAdmin grants admin to a user. Admins are expected to also be
// members; callers add the membership first.
func (c *Channel) AddAdmin(userID int64) bool {
	return c.admins.Add(userID)
}

// IsAdmin reports whether the user administers the channel.
func (c *Channel) IsAdmin(userID int64) bool {
	return c.admins.Contains(userID)
}

// MemberIDs returns a snapshot of the member set. Broadcast fan-out
// iterates the snapshot, so a concurrent join never mutates mid-send.
func (c *Channel) MemberIDs() []int64 {
	return c.members.ToSlice()
}

// MemberCount returns the current member count.
func (c *Channel) MemberCount() int {
	return c.members.Cardinality()
}

// ChannelRegistry holds all known channels, indexed by id and by name.
// Populated from the store at startup; grows on create, never shrinks.
type ChannelRegistry struct {
	mu     sync.RWMutex
	byID   map[int64]*Channel
	byName map[string]*Channel
}

// NewChannelRegistry creates an empty channel registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{
		byID:   make(map[int64]*Channel),
		byName: make(map[string]*Channel),
	}
}

// Add registers a channel under both indices.
func (r *ChannelRegistry) Add(ch *Channel) {
	r.mu.Lock()
	r.byID[ch.ID] = ch
	r.byName[ch.Name] = ch
	r.mu.Unlock()
}

// Get returns a channel by id.
func (r *ChannelRegistry) Get(id int64) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.byID[id]
	return ch, ok
}

// GetByName returns a channel by its unique name.
func (r *ChannelRegistry) GetByName(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.byName[name]
	return ch, ok
}

// Names returns all channel names, sorted.
func (r *ChannelRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Count returns the number of registered channels.
func (r *ChannelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
