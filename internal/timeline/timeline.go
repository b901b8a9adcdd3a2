// Package timeline merges a point-in-time message snapshot with the live
// event stream into one ordered, duplicate-free view. The view is append-only:
// it relies on the broadcaster's per-room delivery order and never re-sorts.
package timeline

import "portal-chat/internal/storage"

// Timeline holds the in-memory view for a single channel.
// Not safe for concurrent use; callers serialize access.
type Timeline struct {
	channelID string
	messages  []storage.Message
	seen      map[string]struct{}
	staged    map[string]struct{}
}

func New() *Timeline {
	return &Timeline{
		seen:   make(map[string]struct{}),
		staged: make(map[string]struct{}),
	}
}

// ChannelID returns the channel the timeline currently tracks.
func (t *Timeline) ChannelID() string {
	return t.channelID
}

// Reset discards the current view and installs a fresh snapshot for channelID.
// Called on entering a channel or switching between channels.
func (t *Timeline) Reset(channelID string, snapshot []storage.Message) {
	t.channelID = channelID
	t.messages = make([]storage.Message, 0, len(snapshot))
	t.seen = make(map[string]struct{}, len(snapshot))
	t.staged = make(map[string]struct{})

	for _, m := range snapshot {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		t.messages = append(t.messages, m)
	}
}

// Apply appends a live event to the view. Events for other channels and
// messages already present are ignored. Reports whether the view changed.
func (t *Timeline) Apply(m storage.Message) bool {
	if m.ChannelID != t.channelID {
		return false
	}
	if _, ok := t.seen[m.ID]; ok {
		return false
	}

	t.seen[m.ID] = struct{}{}
	t.messages = append(t.messages, m)
	return true
}

// Stage appends an optimistic local message before the server confirms it.
// local.ID is a client-generated placeholder, never a server id.
func (t *Timeline) Stage(local storage.Message) {
	if local.ChannelID != t.channelID {
		return
	}
	if _, ok := t.seen[local.ID]; ok {
		return
	}

	t.seen[local.ID] = struct{}{}
	t.staged[local.ID] = struct{}{}
	t.messages = append(t.messages, local)
}

// Confirm replaces the staged entry with the persisted record the server
// returned. If the record already arrived through the live stream the staged
// entry is simply removed.
func (t *Timeline) Confirm(localID string, persisted storage.Message) {
	if _, ok := t.staged[localID]; !ok {
		return
	}

	if _, arrived := t.seen[persisted.ID]; arrived {
		t.remove(localID)
		return
	}

	for i := range t.messages {
		if t.messages[i].ID == localID {
			t.messages[i] = persisted
			break
		}
	}
	delete(t.seen, localID)
	delete(t.staged, localID)
	t.seen[persisted.ID] = struct{}{}
}

// Revert removes a staged entry after a failed send.
func (t *Timeline) Revert(localID string) {
	if _, ok := t.staged[localID]; !ok {
		return
	}
	t.remove(localID)
}

// Messages returns a copy of the current ordered view.
func (t *Timeline) Messages() []storage.Message {
	out := make([]storage.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) remove(id string) {
	for i := range t.messages {
		if t.messages[i].ID == id {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			break
		}
	}
	delete(t.seen, id)
	delete(t.staged, id)
}
