package entity

import "time"

// Urgency ranks how prominently a quick action is surfaced
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ActionKind selects how the dispatcher executes a quick action
type ActionKind string

const (
	ActionCreateOffer   ActionKind = "create_offer"
	ActionRequestDD     ActionKind = "request_dd"
	ActionShareDocument ActionKind = "share_document"
	ActionCustom        ActionKind = "custom"
)

// QuickAction is a user-invokable operation surfaced in the conversation.
// Custom actions name a handler registered with the dispatcher.
type QuickAction struct {
	ID          string     `json:"id" yaml:"id"`
	Label       string     `json:"label" yaml:"label"`
	Icon        string     `json:"icon" yaml:"icon"`
	Kind        ActionKind `json:"kind" yaml:"kind"`
	Handler     string     `json:"handler,omitempty" yaml:"handler"`
	Available   bool       `json:"available" yaml:"available"`
	Urgency     Urgency    `json:"urgency" yaml:"urgency"`
	Description string     `json:"description,omitempty" yaml:"description"`
}

// TransactionState holds the deal flags and the stage-local progress
type TransactionState struct {
	HasNDA          bool             `json:"has_nda" yaml:"has_nda"`
	HasOffer        bool             `json:"has_offer" yaml:"has_offer"`
	HasDueDiligence bool             `json:"has_due_diligence" yaml:"has_due_diligence"`
	HasTransaction  bool             `json:"has_transaction" yaml:"has_transaction"`
	CurrentStage    TransactionStage `json:"current_stage" yaml:"current_stage"`
	Progress        int              `json:"progress" yaml:"progress"` // stage-local, 0-100
}

// Progress is the human-readable overall deal progress
type Progress struct {
	Percentage          int    `json:"percentage" yaml:"percentage"` // overall, 0-100
	Description         string `json:"description,omitempty" yaml:"description"`
	CurrentStep         string `json:"current_step,omitempty" yaml:"current_step"`
	NextStep            string `json:"next_step,omitempty" yaml:"next_step"`
	EstimatedCompletion string `json:"estimated_completion,omitempty" yaml:"estimated_completion"`
}

// ConversationContext is the transaction context attached to a conversation
type ConversationContext struct {
	ID               string           `json:"id" yaml:"id"`
	ListingID        string           `json:"listing_id" yaml:"listing_id"`
	CurrentStage     TransactionStage `json:"current_stage" yaml:"current_stage"`
	TransactionState TransactionState `json:"transaction_state" yaml:"transaction_state"`
	QuickActions     []QuickAction    `json:"quick_actions" yaml:"quick_actions"`
	Progress         Progress         `json:"progress" yaml:"progress"`
	LastActivity     time.Time        `json:"last_activity" yaml:"last_activity"`
	Participants     []string         `json:"participants" yaml:"participants"`
	BusinessContext  *BusinessContext `json:"business_context,omitempty" yaml:"business_context"`
}

// Clone returns a deep copy of the context
func (c ConversationContext) Clone() ConversationContext {
	out := c
	if c.QuickActions != nil {
		out.QuickActions = append([]QuickAction(nil), c.QuickActions...)
	}
	if c.Participants != nil {
		out.Participants = append([]string(nil), c.Participants...)
	}
	if c.BusinessContext != nil {
		bc := *c.BusinessContext
		out.BusinessContext = &bc
	}
	return out
}

// FindAction looks up a quick action by id
func (c *ConversationContext) FindAction(id string) (QuickAction, bool) {
	for _, a := range c.QuickActions {
		if a.ID == id {
			return a, true
		}
	}
	return QuickAction{}, false
}

// TransactionStatePatch is a shallow update of the transaction flags. Nil fields are left unchanged.
type TransactionStatePatch struct {
	HasNDA          *bool `json:"has_nda,omitempty"`
	HasOffer        *bool `json:"has_offer,omitempty"`
	HasDueDiligence *bool `json:"has_due_diligence,omitempty"`
	HasTransaction  *bool `json:"has_transaction,omitempty"`
	Progress        *int  `json:"progress,omitempty"`
}

// ProgressPatch is a shallow update of the overall progress
type ProgressPatch struct {
	Percentage          *int    `json:"percentage,omitempty"`
	Description         *string `json:"description,omitempty"`
	CurrentStep         *string `json:"current_step,omitempty"`
	NextStep            *string `json:"next_step,omitempty"`
	EstimatedCompletion *string `json:"estimated_completion,omitempty"`
}

// ContextPatch is a shallow update of a conversation context
type ContextPatch struct {
	ListingID        *string                `json:"listing_id,omitempty"`
	CurrentStage     *TransactionStage      `json:"current_stage,omitempty"`
	TransactionState *TransactionStatePatch `json:"transaction_state,omitempty"`
	Progress         *ProgressPatch         `json:"progress,omitempty"`
	Participants     []string               `json:"participants,omitempty"`
	BusinessContext  *BusinessContext       `json:"business_context,omitempty"`
}
