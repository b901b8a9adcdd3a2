package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portal-chat/internal/storage"
)

func message(id, channelID, content string) storage.Message {
	return storage.Message{
		ID:        id,
		ChannelID: channelID,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func ids(messages []storage.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestSnapshotThenLiveEvents(t *testing.T) {
	t.Parallel()

	tl := New()
	tl.Reset("general", []storage.Message{
		message("m1", "general", "hi"),
		message("m2", "general", "there"),
	})

	// a live event duplicating the snapshot is ignored
	require.False(t, tl.Apply(message("m2", "general", "there")))
	require.True(t, tl.Apply(message("m3", "general", "new")))

	require.Equal(t, []string{"m1", "m2", "m3"}, ids(tl.Messages()))
}

func TestApplyOtherChannelIgnored(t *testing.T) {
	t.Parallel()

	tl := New()
	tl.Reset("general", nil)

	require.False(t, tl.Apply(message("m1", "random", "elsewhere")))
	require.Empty(t, tl.Messages())
}

func TestResetDiscardsPreviousChannel(t *testing.T) {
	t.Parallel()

	tl := New()
	tl.Reset("general", []storage.Message{message("m1", "general", "hi")})
	tl.Reset("random", []storage.Message{message("r1", "random", "yo")})

	require.Equal(t, "random", tl.ChannelID())
	require.Equal(t, []string{"r1"}, ids(tl.Messages()))

	// events for the abandoned channel no longer apply
	require.False(t, tl.Apply(message("m2", "general", "late")))
}

func TestStageConfirm(t *testing.T) {
	t.Parallel()

	tl := New()
	tl.Reset("general", []storage.Message{message("m1", "general", "hi")})

	tl.Stage(message("local-1", "general", "optimistic"))
	require.Equal(t, []string{"m1", "local-1"}, ids(tl.Messages()))

	persisted := message("m2", "general", "optimistic")
	tl.Confirm("local-1", persisted)
	require.Equal(t, []string{"m1", "m2"}, ids(tl.Messages()))

	// the live echo of the persisted record is deduplicated
	require.False(t, tl.Apply(persisted))
	require.Equal(t, []string{"m1", "m2"}, ids(tl.Messages()))
}

func TestConfirmAfterLiveEchoArrived(t *testing.T) {
	t.Parallel()

	tl := New()
	tl.Reset("general", nil)

	tl.Stage(message("local-1", "general", "optimistic"))

	// push event for the persisted record lands before the REST response
	persisted := message("m1", "general", "optimistic")
	require.True(t, tl.Apply(persisted))

	tl.Confirm("local-1", persisted)
	require.Equal(t, []string{"m1"}, ids(tl.Messages()))
}

func TestRevertRemovesStagedEntry(t *testing.T) {
	t.Parallel()

	tl := New()
	tl.Reset("general", []storage.Message{message("m1", "general", "hi")})

	tl.Stage(message("local-1", "general", "failed send"))
	tl.Revert("local-1")

	require.Equal(t, []string{"m1"}, ids(tl.Messages()))

	// reverting twice or reverting a non-staged id is a no-op
	tl.Revert("local-1")
	tl.Revert("m1")
	require.Equal(t, []string{"m1"}, ids(tl.Messages()))
}

func TestSnapshotDuplicatesCollapsed(t *testing.T) {
	t.Parallel()

	tl := New()
	tl.Reset("general", []storage.Message{
		message("m1", "general", "hi"),
		message("m1", "general", "hi"),
	})

	require.Equal(t, []string{"m1"}, ids(tl.Messages()))
}

func TestMessagesReturnsCopy(t *testing.T) {
	t.Parallel()

	tl := New()
	tl.Reset("general", []storage.Message{message("m1", "general", "hi")})

	view := tl.Messages()
	view[0].Content = "mutated"

	require.Equal(t, "hi", tl.Messages()[0].Content)
}
