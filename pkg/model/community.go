package model

import (
	"fmt"
	"time"
)

// GeneralChannel is created with every server and cannot be created by hand.
const GeneralChannel = "general"

type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Server struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profileId"`
	Name       string    `json:"name"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	InviteCode string    `json:"inviteCode"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ChannelType string

const (
	ChannelText  ChannelType = "TEXT"
	ChannelAudio ChannelType = "AUDIO"
	ChannelVideo ChannelType = "VIDEO"
)

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelText, ChannelAudio, ChannelVideo:
		return true
	}
	return false
}

type Channel struct {
	ID        string      `json:"id"`
	ServerID  string      `json:"serverId"`
	ProfileID string      `json:"profileId"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (c Channel) Room() Room { return ChannelRoom(c.ID) }

type MemberRole string

const (
	RoleAdmin     MemberRole = "ADMIN"
	RoleModerator MemberRole = "MODERATOR"
	RoleGuest     MemberRole = "GUEST"
)

// Rank orders roles for authorization and member listings. Lower is more
// privileged; unknown roles sort last.
func (r MemberRole) Rank() int {
	switch r {
	case RoleAdmin:
		return 0
	case RoleModerator:
		return 1
	case RoleGuest:
		return 2
	}
	return 3
}

// AtLeast reports whether r is as privileged as min.
func (r MemberRole) AtLeast(min MemberRole) bool {
	return r.Rank() <= min.Rank()
}

func ParseRole(s string) (MemberRole, error) {
	r := MemberRole(s)
	if r.Rank() > RoleGuest.Rank() {
		return "", fmt.Errorf("unknown role %q: %w", s, ErrValidation)
	}
	return r, nil
}

type Member struct {
	ID        string     `json:"id"`
	ServerID  string     `json:"serverId"`
	ProfileID string     `json:"profileId"`
	Role      MemberRole `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
}

type Conversation struct {
	ID          string    `json:"id"`
	MemberOneID string    `json:"memberOneId"`
	MemberTwoID string    `json:"memberTwoId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (c Conversation) Room() Room { return ConversationRoom(c.ID) }

func (c Conversation) Has(memberID string) bool {
	return memberID != "" && (c.MemberOneID == memberID || c.MemberTwoID == memberID)
}

// Other returns the participant that is not memberID.
func (c Conversation) Other(memberID string) string {
	if c.MemberOneID == memberID {
		return c.MemberTwoID
	}
	return c.MemberOneID
}

// PairKey is the order-independent lookup key for a pair of members.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// InboxEntry is one conversation in a member's direct message list.
type InboxEntry struct {
	ConversationID string    `json:"conversationId"`
	OtherMemberID  string    `json:"otherMemberId"`
	LastUpdated    time.Time `json:"lastUpdated"`
	UnreadCount    int64     `json:"unreadCount"`
}
