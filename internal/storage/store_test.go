package storage

import (
	"context"
	"os"
	"testing"

	"github.com/caarlos0/env/v6"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mytesting "portal-chat/internal/testing"
)

// integration tests need a running PostgreSQL with schema.sql applied;
// connection parameters come from the usual PG_* variables

func bootstrap(t *testing.T) *Store {
	if os.Getenv("CHAT_TEST_PG") == "" {
		t.Skip("set CHAT_TEST_PG=1 to run storage integration tests")
	}

	cfg := Config{}
	require.NoError(t, env.Parse(&cfg))

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s, err := New(logger.Sugar(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

func TestCreateChannel(t *testing.T) {
	s := bootstrap(t)

	channel, err := s.CreateChannel(context.Background(), "org1", "u1", mytesting.RandString(), ChannelPublic, "", []string{"u2", "u2", "u1"})
	require.NoError(t, err)

	require.NotEmpty(t, channel.ID)
	require.False(t, channel.CreatedAt.IsZero())
	// creator deduplicated out of the member list, duplicates collapsed
	require.Equal(t, []ChannelMember{
		{UserID: "u1", Role: RoleAdmin},
		{UserID: "u2", Role: RoleMember},
	}, channel.Members)
}

func TestCreateChannelExists(t *testing.T) {
	s := bootstrap(t)

	name := mytesting.RandString()
	_, err := s.CreateChannel(context.Background(), "org1", "u1", name, ChannelPublic, "", nil)
	require.NoError(t, err)
	_, err = s.CreateChannel(context.Background(), "org1", "u1", name, ChannelPublic, "", nil)
	require.Equal(t, ErrChannelExists, err)
}

func TestCreateChannelSameNameOtherOrg(t *testing.T) {
	s := bootstrap(t)

	name := mytesting.RandString()
	_, err := s.CreateChannel(context.Background(), "org1", "u1", name, ChannelPublic, "", nil)
	require.NoError(t, err)
	_, err = s.CreateChannel(context.Background(), "org2", "u1", name, ChannelPublic, "", nil)
	require.NoError(t, err)
}

func TestMessageRoundTrip(t *testing.T) {
	s := bootstrap(t)

	channel, err := s.CreateChannel(context.Background(), "org1", "u1", mytesting.RandString(), ChannelPublic, "", nil)
	require.NoError(t, err)

	sent, err := s.CreateMessage(context.Background(), "org1", channel.ID, "u1", "Alice", "hello", []string{"file.pdf"})
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)
	require.False(t, sent.CreatedAt.IsZero())

	messages, err := s.MessagesByChannelID(context.Background(), "org1", channel.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, sent.ID, messages[0].ID)
	require.Equal(t, "hello", messages[0].Content)
	require.Equal(t, "u1", messages[0].SenderID)
	require.Equal(t, "Alice", messages[0].SenderName)
	require.Equal(t, channel.ID, messages[0].ChannelID)
	require.Equal(t, []string{"file.pdf"}, messages[0].Attachments)
}

func TestMessagesOrderedByAppend(t *testing.T) {
	s := bootstrap(t)

	channel, err := s.CreateChannel(context.Background(), "org1", "u1", mytesting.RandString(), ChannelPublic, "", nil)
	require.NoError(t, err)

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		_, err = s.CreateMessage(context.Background(), "org1", channel.ID, "u1", "Alice", c, nil)
		require.NoError(t, err)
	}

	messages, err := s.MessagesByChannelID(context.Background(), "org1", channel.ID)
	require.NoError(t, err)
	require.Len(t, messages, len(contents))
	for i, c := range contents {
		require.Equal(t, c, messages[i].Content)
		if i > 0 {
			require.False(t, messages[i].CreatedAt.Before(messages[i-1].CreatedAt))
		}
	}
}

func TestCreateMessageBadChannel(t *testing.T) {
	s := bootstrap(t)

	_, err := s.CreateMessage(context.Background(), "org1", "no-such-channel", "u1", "Alice", "hello", nil)
	require.Equal(t, ErrChannelNotExist, err)
}

func TestCreateMessageForeignOrg(t *testing.T) {
	s := bootstrap(t)

	channel, err := s.CreateChannel(context.Background(), "org1", "u1", mytesting.RandString(), ChannelPublic, "", nil)
	require.NoError(t, err)

	// channels outside the caller's organization look absent
	_, err = s.CreateMessage(context.Background(), "org2", channel.ID, "u1", "Alice", "hello", nil)
	require.Equal(t, ErrChannelNotExist, err)
}

func TestMessagesByChannelIDNotExist(t *testing.T) {
	s := bootstrap(t)

	_, err := s.MessagesByChannelID(context.Background(), "org1", "no-such-channel")
	require.Equal(t, ErrChannelNotExist, err)
}

func TestChannelsByUserVisibility(t *testing.T) {
	s := bootstrap(t)

	org := "org-" + mytesting.RandString()

	public, err := s.CreateChannel(context.Background(), org, "ua", mytesting.RandString(), ChannelPublic, "", nil)
	require.NoError(t, err)
	private, err := s.CreateChannel(context.Background(), org, "ua", mytesting.RandString(), ChannelPrivate, "", []string{"ub"})
	require.NoError(t, err)

	// member of the private channel sees both
	channels, err := s.ChannelsByUser(context.Background(), org, "ub")
	require.NoError(t, err)
	require.Len(t, channels, 2)

	// outsider sees only the public one
	channels, err = s.ChannelsByUser(context.Background(), org, "uc")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Equal(t, public.ID, channels[0].ID)

	_ = private
}

func TestCanAccess(t *testing.T) {
	s := bootstrap(t)

	org := "org-" + mytesting.RandString()

	public, err := s.CreateChannel(context.Background(), org, "ua", mytesting.RandString(), ChannelPublic, "", nil)
	require.NoError(t, err)
	private, err := s.CreateChannel(context.Background(), org, "ua", mytesting.RandString(), ChannelPrivate, "", []string{"ub"})
	require.NoError(t, err)

	ok, err := s.CanAccess(context.Background(), org, "uc", public.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CanAccess(context.Background(), org, "ub", private.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CanAccess(context.Background(), org, "uc", private.ID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.CanAccess(context.Background(), org, "uc", "no-such-channel")
	require.Equal(t, ErrChannelNotExist, err)
}
