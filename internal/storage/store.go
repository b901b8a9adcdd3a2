package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"portal-chat/internal/storage/zapadapter"
)

var (
	ErrChannelExists   = errors.New("channel already exists")
	ErrChannelNotExist = errors.New("channel does not exist")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close releases all pooled connections
func (s *Store) Close() {
	s.db.Close()
}

// CreateChannel performs two-step transaction to create channel
// (1. insert channel record; 2. bulk insert on channel_members) and returns the created channel.
// Creator becomes ADMIN, each unique id in memberIDs becomes MEMBER.
func (s *Store) CreateChannel(ctx context.Context, orgID, creatorID, name string, kind ChannelKind, description string, memberIDs []string) (Channel, error) {
	s.logger.Debugf("Creating %s channel (%s) in org (%s)", kind, name, orgID)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Channel{}, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	channel := Channel{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		Name:        name,
		Kind:        kind,
		Description: description,
		CreatedAt:   time.Now(),
	}

	sql := "insert into channels (id, org_id, name, kind, description, created_by, created_at) values ($1, $2, $3, $4, $5, $6, $7)"
	_, err = tx.Exec(ctx, sql, channel.ID, orgID, name, string(kind), description, creatorID, channel.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Channel{}, ErrChannelExists
		}
		return Channel{}, err
	}

	// preparing membership rows for bulk insert, creator first
	members := lo.Filter(lo.Uniq(memberIDs), func(id string, _ int) bool {
		return id != creatorID && id != ""
	})

	rows := make([]memberRow, 0, len(members)+1)
	rows = append(rows, memberRow{channelID: channel.ID, userID: creatorID, role: RoleAdmin})
	for _, id := range members {
		rows = append(rows, memberRow{channelID: channel.ID, userID: id, role: RoleMember})
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"channel_members"}, []string{"channel_id", "user_id", "role"}, copyFromMembers(rows))
	if err != nil {
		return Channel{}, err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return Channel{}, err
	}

	channel.Members = lo.Map(rows, func(r memberRow, _ int) ChannelMember {
		return ChannelMember{UserID: r.userID, Role: r.role}
	})

	s.logger.Debugf("Created channel (%s) with id %s", name, channel.ID)

	return channel, nil
}

// ChannelsByUser returns every PUBLIC channel in the organization unioned with
// every PRIVATE channel the user has a membership row for, with member summaries
func (s *Store) ChannelsByUser(ctx context.Context, orgID, userID string) ([]Channel, error) {
	s.logger.Debugf("Retrieving channels for user (%s) in org (%s)", userID, orgID)

	sql := ` -- channels visible to the user with aggregated member summaries
			with visible_channels as (
				select channels.id,
					   channels.org_id,
					   channels.name,
					   channels.kind,
					   channels.description,
					   channels.created_at
				  from channels
				 where channels.org_id = $1
				   and (channels.kind = 'PUBLIC'
						or exists (select 1
									 from channel_members
									where channel_members.channel_id = channels.id
									  and channel_members.user_id = $2))
			),

			members_per_channel as (
				select channel_id,
					   array_agg(jsonb_build_object('userId', user_id, 'role', role)) as members
				  from channel_members
				 group by channel_id
			)

			select visible_channels.id,
				   visible_channels.org_id,
				   visible_channels.name,
				   visible_channels.kind,
				   visible_channels.description,
				   visible_channels.created_at,
				   coalesce(members_per_channel.members, '{}'::jsonb[])
			  from visible_channels
			  left join members_per_channel
				on visible_channels.id = members_per_channel.channel_id
			 order by visible_channels.created_at asc`

	rows, err := s.db.Query(ctx, sql, orgID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var (
			c       Channel
			kind    string
			members pgtype.JSONBArray
		)
		err = rows.Scan(&c.ID, &c.OrgID, &c.Name, &kind, &c.Description, &c.CreatedAt, &members)
		if err != nil {
			return nil, err
		}
		c.Kind = ChannelKind(kind)

		membersJSON := make([]string, len(members.Elements))
		err = members.AssignTo(&membersJSON)
		if err != nil {
			return nil, err
		}

		c.Members = make([]ChannelMember, len(membersJSON))
		for i, v := range membersJSON {
			err = json.Unmarshal([]byte(v), &c.Members[i])
			if err != nil {
				return nil, err
			}
		}

		channels = append(channels, c)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d channels", len(channels))

	return channels, nil
}

// CanAccess reports whether the user may read the channel: PUBLIC channels are
// readable by every organization member, PRIVATE ones require a membership row
func (s *Store) CanAccess(ctx context.Context, orgID, userID, channelID string) (bool, error) {
	var (
		kind     string
		isMember bool
	)
	sql := `select channels.kind,
				   exists (select 1
							 from channel_members
							where channel_members.channel_id = channels.id
							  and channel_members.user_id = $3)
			  from channels
			 where channels.id = $1
			   and channels.org_id = $2`
	err := s.db.QueryRow(ctx, sql, channelID, orgID, userID).Scan(&kind, &isMember)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrChannelNotExist
		}
		return false, err
	}

	return ChannelKind(kind) == ChannelPublic || isMember, nil
}

// CreateMessage appends a message to the channel and returns it with
// server-assigned id and timestamp. It does not broadcast; that is the caller's job.
func (s *Store) CreateMessage(ctx context.Context, orgID, channelID, senderID, senderName, content string, attachments []string) (Message, error) {
	s.logger.Debugf("Creating message from user (%s) in channel (%s)", senderID, channelID)

	// check if channel exists within the caller's organization
	var i int8
	sql := "select 1 from channels where id = $1 and org_id = $2"
	err := s.db.QueryRow(ctx, sql, channelID, orgID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrChannelNotExist
		}
		return Message{}, err
	}

	message := Message{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		SenderID:    senderID,
		SenderName:  senderName,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	}

	sql = "insert into messages (id, channel_id, sender_id, sender_name, content, attachments, created_at) values ($1, $2, $3, $4, $5, $6, $7)"
	_, err = s.db.Exec(ctx, sql, message.ID, channelID, senderID, senderName, content, attachments, message.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return Message{}, ErrChannelNotExist
		}
		return Message{}, err
	}

	return message, nil
}

// MessagesByChannelID returns all channel messages sorted by creation time
// (from earliest to latest, insertion order breaking ties)
func (s *Store) MessagesByChannelID(ctx context.Context, orgID, channelID string) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for channel (%s)", channelID)

	// check if channel exists within the caller's organization
	var i int8
	sql := "select 1 from channels where id = $1 and org_id = $2"
	err := s.db.QueryRow(ctx, sql, channelID, orgID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChannelNotExist
		}
		return nil, err
	}

	sql = `select messages.id,
				  messages.channel_id,
				  messages.sender_id,
				  messages.sender_name,
				  messages.content,
				  messages.attachments,
				  messages.created_at
			 from messages
			where channel_id = $1
			order by created_at asc, seq asc`

	rows, err := s.db.Query(ctx, sql, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m           Message
			attachments pgtype.TextArray
		)
		err = rows.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.SenderName, &m.Content, &attachments, &m.CreatedAt)
		if err != nil {
			return nil, err
		}

		err = attachments.AssignTo(&m.Attachments)
		if err != nil {
			return nil, err
		}

		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}
