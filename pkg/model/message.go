package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DeletedContent replaces the content of a tombstoned message.
const DeletedContent = "This message has been deleted."

// MessageID is a time-ordered snowflake identifier. It is exposed as a
// decimal string so cursors stay opaque to clients.
type MessageID int64

func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseMessageID parses the external string form of an identifier.
func ParseMessageID(s string) (MessageID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid message id %q: %w", s, ErrValidation)
	}
	return MessageID(n), nil
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *MessageID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Accept bare numbers from older producers.
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*id = MessageID(n)
		return nil
	}
	parsed, err := ParseMessageID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

type Message struct {
	ID        MessageID `json:"id"`
	Room      Room      `json:"room"`
	MemberID  string    `json:"memberId"`
	Content   string    `json:"content"`
	FileURL   string    `json:"fileUrl,omitempty"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Before reports whether m sorts strictly older than other. Snowflake ids
// embed the creation time, so the id alone decides ordering and the
// timestamp only breaks ties between ids from skewed nodes.
func (m Message) Before(other Message) bool {
	if m.ID != other.ID {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// Page is one newest-first slice of a room's history.
type Page struct {
	Items      []Message `json:"items"`
	NextCursor *string   `json:"nextCursor"`
}
