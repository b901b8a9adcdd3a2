package storage

import "time"

// ChannelKind separates organization-wide channels from membership-gated ones.
type ChannelKind string

const (
	ChannelPublic  ChannelKind = "PUBLIC"
	ChannelPrivate ChannelKind = "PRIVATE"
)

// Channel membership roles. Scoped to the channel, distinct from any
// organization-wide role the portal assigns.
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

type ChannelMember struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type Channel struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"organizationId"`
	Name        string          `json:"name"`
	Kind        ChannelKind     `json:"kind"`
	Description string          `json:"description,omitempty"`
	Members     []ChannelMember `json:"members"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type Message struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channelId"`
	SenderID    string    `json:"senderId"`
	SenderName  string    `json:"senderName"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
