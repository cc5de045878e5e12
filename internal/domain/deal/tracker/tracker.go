package tracker

import (
	"fmt"
	"time"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

// Quick action ids surfaced by the tracker
const (
	ActionRequestNDA    = "request_nda"
	ActionSignNDA       = "sign_nda"
	ActionCreateOffer   = "create_offer"
	ActionRequestDD     = "request_dd"
	ActionShareDocument = "share_document"
	ActionAdvanceStage  = "advance_stage"
)

// Tracker applies transaction-state changes to a conversation context on
// behalf of one viewer. It holds no conversation state itself; the store
// serializes calls.
type Tracker struct {
	role entity.Role
	now  func() time.Time
}

// Option configures the Tracker
type Option func(*Tracker)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates a tracker for a viewer role
func New(role entity.Role, opts ...Option) *Tracker {
	t := &Tracker{
		role: role,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Role returns the viewer role quick actions are computed for
func (t *Tracker) Role() entity.Role {
	return t.role
}

// Refresh re-establishes the stage invariant and recomputes quick actions.
// The context's CurrentStage wins over a diverging transaction state.
func (t *Tracker) Refresh(c *entity.ConversationContext) {
	if !c.CurrentStage.IsValid() {
		c.CurrentStage = entity.StageInquiry
	}
	c.TransactionState.CurrentStage = c.CurrentStage
	c.TransactionState.Progress = entity.ClampPercent(c.TransactionState.Progress)
	c.Progress.Percentage = entity.ClampPercent(c.Progress.Percentage)
	c.QuickActions = QuickActions(c.TransactionState, t.role)
}

// UpdateStage moves the context to a new stage. Both stage fields are written
// together. Re-applying the current stage changes nothing and reports false.
func (t *Tracker) UpdateStage(c *entity.ConversationContext, to entity.TransactionStage) (bool, error) {
	if err := entity.ValidateTransition(c.CurrentStage, to); err != nil {
		return false, err
	}
	if c.CurrentStage == to {
		return false, nil
	}

	c.CurrentStage = to
	c.TransactionState.CurrentStage = to
	c.TransactionState.Progress = 0
	if to == entity.StageCompleted {
		c.TransactionState.Progress = 100
	}

	step := stageSteps[to]
	c.Progress.Percentage = entity.OverallProgress(to, c.TransactionState.Progress)
	c.Progress.CurrentStep = step.current
	c.Progress.NextStep = step.next
	c.LastActivity = t.now()
	c.QuickActions = QuickActions(c.TransactionState, t.role)
	return true, nil
}

// Advance moves to the next stage if its entry requirement is met
func (t *Tracker) Advance(c *entity.ConversationContext) (entity.TransactionStage, error) {
	next, ok := c.CurrentStage.Next()
	if !ok {
		return c.CurrentStage, &entity.TransitionError{From: c.CurrentStage, To: c.CurrentStage}
	}
	if !entity.StageGuard(next, c.TransactionState) {
		return c.CurrentStage, fmt.Errorf("entering %s: %w", next, entity.ErrStageGuard)
	}
	if _, err := t.UpdateStage(c, next); err != nil {
		return c.CurrentStage, err
	}
	return next, nil
}

// UpdateTransactionState shallow-merges flags and stage progress
func (t *Tracker) UpdateTransactionState(c *entity.ConversationContext, p entity.TransactionStatePatch) {
	s := &c.TransactionState
	if p.HasNDA != nil {
		s.HasNDA = *p.HasNDA
	}
	if p.HasOffer != nil {
		s.HasOffer = *p.HasOffer
	}
	if p.HasDueDiligence != nil {
		s.HasDueDiligence = *p.HasDueDiligence
	}
	if p.HasTransaction != nil {
		s.HasTransaction = *p.HasTransaction
	}
	if p.Progress != nil {
		s.Progress = entity.ClampPercent(*p.Progress)
		c.Progress.Percentage = entity.OverallProgress(c.CurrentStage, s.Progress)
	}
	s.CurrentStage = c.CurrentStage
	c.LastActivity = t.now()
	c.QuickActions = QuickActions(c.TransactionState, t.role)
}

// UpdateProgress shallow-merges the overall progress description.
// An explicit percentage stays until the next stage or stage-progress change.
func (t *Tracker) UpdateProgress(c *entity.ConversationContext, p entity.ProgressPatch) {
	if p.Percentage != nil {
		c.Progress.Percentage = entity.ClampPercent(*p.Percentage)
	}
	if p.Description != nil {
		c.Progress.Description = *p.Description
	}
	if p.CurrentStep != nil {
		c.Progress.CurrentStep = *p.CurrentStep
	}
	if p.NextStep != nil {
		c.Progress.NextStep = *p.NextStep
	}
	if p.EstimatedCompletion != nil {
		c.Progress.EstimatedCompletion = *p.EstimatedCompletion
	}
	c.LastActivity = t.now()
}

// ApplyContextPatch merges a partial context. A stage change goes through the
// transition table; the patch is rejected as a whole if it is illegal.
func (t *Tracker) ApplyContextPatch(c *entity.ConversationContext, p entity.ContextPatch) error {
	if p.CurrentStage != nil {
		if err := entity.ValidateTransition(c.CurrentStage, *p.CurrentStage); err != nil {
			return err
		}
	}

	if p.ListingID != nil {
		c.ListingID = *p.ListingID
	}
	if p.Participants != nil {
		c.Participants = append([]string(nil), p.Participants...)
	}
	if p.BusinessContext != nil {
		bc := *p.BusinessContext
		c.BusinessContext = &bc
	}
	if p.CurrentStage != nil {
		if _, err := t.UpdateStage(c, *p.CurrentStage); err != nil {
			return err
		}
	}
	if p.TransactionState != nil {
		t.UpdateTransactionState(c, *p.TransactionState)
	}
	if p.Progress != nil {
		t.UpdateProgress(c, *p.Progress)
	}

	c.LastActivity = t.now()
	c.QuickActions = QuickActions(c.TransactionState, t.role)
	return nil
}

// ExecuteQuickAction resolves an action the viewer may invoke right now
func (t *Tracker) ExecuteQuickAction(c *entity.ConversationContext, actionID string) (entity.QuickAction, error) {
	action, ok := c.FindAction(actionID)
	if !ok {
		return entity.QuickAction{}, entity.ErrActionNotFound
	}
	if !action.Available {
		return action, entity.ErrActionUnavailable
	}
	return action, nil
}

type step struct {
	current string
	next    string
}

var stageSteps = map[entity.TransactionStage]step{
	entity.StageInquiry:      {current: "Initial inquiry", next: "Sign NDA"},
	entity.StageNDA:          {current: "NDA signing", next: "Submit offer"},
	entity.StageOffer:        {current: "Offer negotiation", next: "Due diligence"},
	entity.StageDueDiligence: {current: "Due diligence", next: "Close transaction"},
	entity.StageTransaction:  {current: "Closing", next: "Completion"},
	entity.StageCompleted:    {current: "Completed"},
}
