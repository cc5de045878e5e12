package entity

import "time"

// Role is the marketplace role of a user
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleAdvisor Role = "advisor"
)

// IsValid returns true for known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdvisor:
		return true
	}
	return false
}

// Participant is the other side of a conversation
type Participant struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Avatar  string `json:"avatar,omitempty" yaml:"avatar"`
	Role    Role   `json:"role" yaml:"role"`
	Company string `json:"company,omitempty" yaml:"company"`
	Online  bool   `json:"online" yaml:"online"`
}

// LastMessage is the snapshot of the newest message shown in conversation lists
type LastMessage struct {
	Content   string      `json:"content" yaml:"content"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	IsRead    bool        `json:"is_read" yaml:"is_read"`
	Sender    string      `json:"sender" yaml:"sender"`
	Type      MessageType `json:"type" yaml:"type"`
}

// BusinessContext describes the listing a conversation is about
type BusinessContext struct {
	Title    string `json:"title" yaml:"title"`
	Price    int64  `json:"price" yaml:"price"`
	Currency string `json:"currency" yaml:"currency"`
	Location string `json:"location,omitempty" yaml:"location"`
}

// Conversation is a buyer-seller (or advisor) messaging thread
type Conversation struct {
	ID              string              `json:"id" yaml:"id"`
	Participant     Participant         `json:"participant" yaml:"participant"`
	LastMessage     LastMessage         `json:"last_message" yaml:"last_message"`
	BusinessContext *BusinessContext    `json:"business_context,omitempty" yaml:"business_context"`
	UnreadCount     int                 `json:"unread_count" yaml:"unread_count"`
	IsPinned        bool                `json:"is_pinned" yaml:"is_pinned"`
	IsArchived      bool                `json:"is_archived" yaml:"is_archived"`
	Status          string              `json:"status" yaml:"status"`
	Context         ConversationContext `json:"context" yaml:"context"`
}

// Clone returns a deep copy safe to hand out of the store
func (c *Conversation) Clone() Conversation {
	out := *c
	if c.BusinessContext != nil {
		bc := *c.BusinessContext
		out.BusinessContext = &bc
	}
	out.Context = c.Context.Clone()
	return out
}
