package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/tracker"
)

// Viewer identifies the user a store belongs to
type Viewer struct {
	UserID string
	Role   entity.Role
}

// ChangeKind names a store mutation
type ChangeKind string

const (
	ChangeMessageAdded        ChangeKind = "message_added"
	ChangeMessageRead         ChangeKind = "message_read"
	ChangeContextUpdated      ChangeKind = "context_updated"
	ChangeStageChanged        ChangeKind = "stage_changed"
	ChangeConversationUpdated ChangeKind = "conversation_updated"
	ChangeReset               ChangeKind = "reset"
)

// Change describes one applied mutation. Conversation and Message are copies.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	Conversation   *entity.Conversation
	Message        *entity.Message
	PreviousStage  entity.TransactionStage
	Stage          entity.TransactionStage
	Remote         bool // applied from another session, not originated here
}

// Observer is notified after each mutation, outside the store lock
type Observer func(Change)

// ListFilter narrows the conversation list
type ListFilter struct {
	Archived *bool
}

// Store holds one session's conversations, messages and the active selection.
// All reads return copies.
type Store struct {
	mu            sync.RWMutex
	viewer        Viewer
	tracker       *tracker.Tracker
	now           func() time.Time
	conversations map[string]*entity.Conversation
	messages      []entity.Message
	selectedID    string
	observers     []Observer
	touched       time.Time
}

// Option configures the Store
type Option func(*Store)

// WithClock overrides the time source for the store and its tracker
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithObserver registers an observer at construction
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observers = append(s.observers, o)
	}
}

// New creates an empty store for a viewer
func New(viewer Viewer, opts ...Option) *Store {
	s := &Store{
		viewer:        viewer,
		now:           time.Now,
		conversations: make(map[string]*entity.Conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = tracker.New(viewer.Role, tracker.WithClock(s.now))
	s.touched = s.now()
	return s
}

// Viewer returns the identity the store was opened for
func (s *Store) Viewer() Viewer {
	return s.viewer
}

// Subscribe registers an observer
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Touched returns the time of the last call that used the store
func (s *Store) Touched() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched
}

// Load replaces the store contents. Contexts are refreshed so that the stage
// invariant holds and quick actions match the viewer.
func (s *Store) Load(conversations []entity.Conversation, messages []entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = make(map[string]*entity.Conversation, len(conversations))
	for i := range conversations {
		c := conversations[i].Clone()
		s.tracker.Refresh(&c.Context)
		s.conversations[c.ID] = &c
	}

	s.messages = make([]entity.Message, 0, len(messages))
	for i := range messages {
		s.messages = append(s.messages, messages[i].Clone())
	}
	s.selectedID = ""
	s.touched = s.now()
}

// Reset drops all state
func (s *Store) Reset() {
	s.mu.Lock()
	s.conversations = make(map[string]*entity.Conversation)
	s.messages = nil
	s.selectedID = ""
	observers := s.observers
	s.mu.Unlock()

	notify(observers, Change{Kind: ChangeReset})
}

// Conversations lists conversations, pinned first, most recent activity first
func (s *Store) Conversations(f ListFilter) []entity.Conversation {
	s.mu.Lock()
	s.touched = s.now()
	out := make([]entity.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if f.Archived != nil && c.IsArchived != *f.Archived {
			continue
		}
		out = append(out, c.Clone())
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsPinned != out[j].IsPinned {
			return out[i].IsPinned
		}
		ai, aj := out[i].Context.LastActivity, out[j].Context.LastActivity
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Conversation returns a single conversation
func (s *Store) Conversation(id string) (entity.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return entity.Conversation{}, entity.ErrConversationNotFound
	}
	return c.Clone(), nil
}

// SelectConversation sets the active conversation. Messages are already
// loaded; the selection only changes what Messages returns.
func (s *Store) SelectConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return entity.ErrConversationNotFound
	}
	s.selectedID = id
	s.touched = s.now()
	return nil
}

// SelectedConversation returns the active conversation
func (s *Store) SelectedConversation() (entity.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selectedID == "" {
		return entity.Conversation{}, entity.ErrNoSelection
	}
	c, ok := s.conversations[s.selectedID]
	if !ok {
		return entity.Conversation{}, entity.ErrNoSelection
	}
	return c.Clone(), nil
}

// Messages returns the messages of the selected conversation in append order
func (s *Store) Messages() []entity.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selectedID == "" {
		return []entity.Message{}
	}
	return s.filterMessages(s.selectedID)
}

// MessagesFor returns the messages of any conversation in append order
func (s *Store) MessagesFor(conversationID string) ([]entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, entity.ErrConversationNotFound
	}
	return s.filterMessages(conversationID), nil
}

func (s *Store) filterMessages(conversationID string) []entity.Message {
	out := make([]entity.Message, 0)
	for i := range s.messages {
		if s.messages[i].ConversationID == conversationID {
			out = append(out, s.messages[i].Clone())
		}
	}
	return out
}

// AddMessage appends a message and refreshes the parent conversation's
// last-message snapshot. There is no deduplication.
func (s *Store) AddMessage(msg entity.Message) error {
	return s.addMessage(msg, false)
}

// DeliverMessage appends a message originated in another session. Unlike
// AddMessage it skips messages already present.
func (s *Store) DeliverMessage(msg entity.Message) error {
	return s.addMessage(msg, true)
}

func (s *Store) addMessage(msg entity.Message, remote bool) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		s.mu.Unlock()
		return entity.ErrConversationNotFound
	}

	if remote && msg.ID != "" {
		for i := range s.messages {
			if s.messages[i].ID == msg.ID {
				s.mu.Unlock()
				return nil
			}
		}
	}

	if msg.SentAt.IsZero() {
		msg.SentAt = s.now()
	}
	stored := msg.Clone()
	stored.IsRead = false
	stored.ReadAt = nil
	s.messages = append(s.messages, stored)

	c.LastMessage = entity.LastMessage{
		Content:   stored.Content,
		Timestamp: stored.SentAt,
		IsRead:    false,
		Sender:    stored.SenderID,
		Type:      stored.Type,
	}
	if stored.SenderID != s.viewer.UserID {
		c.UnreadCount++
	}
	c.Context.LastActivity = stored.SentAt
	s.touched = s.now()

	change := Change{
		Kind:           ChangeMessageAdded,
		ConversationID: c.ID,
		Conversation:   cloneConv(c),
		Message:        &stored,
		Stage:          c.Context.CurrentStage,
		Remote:         remote,
	}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
	return nil
}

// MarkRead flips an inbound message to read. Marking an already-read message
// is a no-op that keeps the original ReadAt. Read state belongs to the
// recipient, so the viewer's own messages are refused.
func (s *Store) MarkRead(messageID string) (entity.Message, error) {
	s.mu.Lock()

	idx := -1
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return entity.Message{}, entity.ErrMessageNotFound
	}

	m := &s.messages[idx]
	if m.SenderID == s.viewer.UserID {
		s.mu.Unlock()
		return entity.Message{}, entity.ErrOwnMessage
	}
	if !m.MarkRead(s.now()) {
		out := m.Clone()
		s.mu.Unlock()
		return out, nil
	}

	c := s.conversations[m.ConversationID]
	if c != nil {
		s.applyRead(c, m)
	}
	s.touched = s.now()

	out := m.Clone()
	change := Change{
		Kind:           ChangeMessageRead,
		ConversationID: m.ConversationID,
		Message:        &out,
	}
	if c != nil {
		change.Conversation = cloneConv(c)
	}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
	return out, nil
}

// MarkConversationRead marks every inbound message of a conversation read
// and returns how many changed.
func (s *Store) MarkConversationRead(conversationID string) (int, error) {
	s.mu.Lock()

	c, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return 0, entity.ErrConversationNotFound
	}

	now := s.now()
	var changes []Change
	for i := range s.messages {
		m := &s.messages[i]
		if m.ConversationID != conversationID || m.SenderID == s.viewer.UserID {
			continue
		}
		if m.MarkRead(now) {
			s.applyRead(c, m)
			out := m.Clone()
			changes = append(changes, Change{
				Kind:           ChangeMessageRead,
				ConversationID: conversationID,
				Message:        &out,
			})
		}
	}
	c.UnreadCount = 0
	s.touched = now

	for i := range changes {
		changes[i].Conversation = cloneConv(c)
	}
	observers := s.observers
	s.mu.Unlock()

	for _, ch := range changes {
		notify(observers, ch)
	}
	return len(changes), nil
}

func (s *Store) applyRead(c *entity.Conversation, m *entity.Message) {
	if m.SenderID != s.viewer.UserID && c.UnreadCount > 0 {
		c.UnreadCount--
	}
	if c.LastMessage.Timestamp.Equal(m.SentAt) && c.LastMessage.Sender == m.SenderID {
		c.LastMessage.IsRead = true
	}
}

// UpdateConversationContext shallow-merges a partial context. Dependent
// fields (stage mirror, quick actions, derived progress) are recomputed.
func (s *Store) UpdateConversationContext(conversationID string, patch entity.ContextPatch) (entity.Conversation, error) {
	return s.mutateContext(conversationID, ChangeContextUpdated, func(c *entity.ConversationContext) error {
		return s.tracker.ApplyContextPatch(c, patch)
	})
}

// UpdateStage moves a conversation to another stage through the transition table
func (s *Store) UpdateStage(conversationID string, stage entity.TransactionStage) (entity.Conversation, error) {
	return s.mutateContext(conversationID, ChangeStageChanged, func(c *entity.ConversationContext) error {
		_, err := s.tracker.UpdateStage(c, stage)
		return err
	})
}

// AdvanceStage moves a conversation to its next stage when the entry requirement holds
func (s *Store) AdvanceStage(conversationID string) (entity.Conversation, error) {
	return s.mutateContext(conversationID, ChangeStageChanged, func(c *entity.ConversationContext) error {
		_, err := s.tracker.Advance(c)
		return err
	})
}

// UpdateTransactionState shallow-merges the transaction flags
func (s *Store) UpdateTransactionState(conversationID string, patch entity.TransactionStatePatch) (entity.Conversation, error) {
	return s.mutateContext(conversationID, ChangeContextUpdated, func(c *entity.ConversationContext) error {
		s.tracker.UpdateTransactionState(c, patch)
		return nil
	})
}

// UpdateProgress shallow-merges the overall progress
func (s *Store) UpdateProgress(conversationID string, patch entity.ProgressPatch) (entity.Conversation, error) {
	return s.mutateContext(conversationID, ChangeContextUpdated, func(c *entity.ConversationContext) error {
		s.tracker.UpdateProgress(c, patch)
		return nil
	})
}

// mutateContext applies fn to a working copy and commits only on success,
// so a rejected change leaves the conversation untouched.
func (s *Store) mutateContext(conversationID string, kind ChangeKind, fn func(*entity.ConversationContext) error) (entity.Conversation, error) {
	return s.mutate(conversationID, kind, false, fn)
}

func (s *Store) mutate(conversationID string, kind ChangeKind, remote bool, fn func(*entity.ConversationContext) error) (entity.Conversation, error) {
	s.mu.Lock()

	c, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return entity.Conversation{}, entity.ErrConversationNotFound
	}

	prev := c.Context.CurrentStage
	working := c.Context.Clone()
	if err := fn(&working); err != nil {
		s.mu.Unlock()
		return entity.Conversation{}, err
	}
	c.Context = working
	if c.Context.BusinessContext != nil {
		bc := *c.Context.BusinessContext
		c.BusinessContext = &bc
	}
	s.touched = s.now()

	if kind == ChangeContextUpdated && prev != c.Context.CurrentStage {
		kind = ChangeStageChanged
	}
	out := c.Clone()
	change := Change{
		Kind:           kind,
		ConversationID: c.ID,
		Conversation:   &out,
		PreviousStage:  prev,
		Stage:          c.Context.CurrentStage,
		Remote:         remote,
	}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
	return out.Clone(), nil
}

// ApplyRemoteState mirrors the transaction state reached in another session.
// Flags are copied; the stage only moves forward, one legal step at a time.
func (s *Store) ApplyRemoteState(conversationID string, state entity.TransactionState) error {
	_, err := s.mutate(conversationID, ChangeContextUpdated, true, func(c *entity.ConversationContext) error {
		s.tracker.UpdateTransactionState(c, entity.TransactionStatePatch{
			HasNDA:          &state.HasNDA,
			HasOffer:        &state.HasOffer,
			HasDueDiligence: &state.HasDueDiligence,
			HasTransaction:  &state.HasTransaction,
		})
		for state.CurrentStage.Index() > c.CurrentStage.Index() {
			next, _ := c.CurrentStage.Next()
			if _, err := s.tracker.UpdateStage(c, next); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// SetPinned flips the pinned flag
func (s *Store) SetPinned(conversationID string, pinned bool) (entity.Conversation, error) {
	return s.mutateConversation(conversationID, func(c *entity.Conversation) {
		c.IsPinned = pinned
	})
}

// SetArchived flips the archived flag. Conversations are never deleted.
func (s *Store) SetArchived(conversationID string, archived bool) (entity.Conversation, error) {
	return s.mutateConversation(conversationID, func(c *entity.Conversation) {
		c.IsArchived = archived
	})
}

// SetStatus replaces the free-text conversation status
func (s *Store) SetStatus(conversationID, status string) (entity.Conversation, error) {
	return s.mutateConversation(conversationID, func(c *entity.Conversation) {
		c.Status = status
	})
}

func (s *Store) mutateConversation(conversationID string, fn func(*entity.Conversation)) (entity.Conversation, error) {
	s.mu.Lock()

	c, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return entity.Conversation{}, entity.ErrConversationNotFound
	}
	fn(c)
	s.touched = s.now()

	out := c.Clone()
	change := Change{
		Kind:           ChangeConversationUpdated,
		ConversationID: c.ID,
		Conversation:   &out,
		Stage:          c.Context.CurrentStage,
	}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
	return out.Clone(), nil
}

// QuickAction resolves an available quick action without changing state
func (s *Store) QuickAction(conversationID, actionID string) (entity.QuickAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return entity.QuickAction{}, entity.ErrConversationNotFound
	}
	return s.tracker.ExecuteQuickAction(&c.Context, actionID)
}

// PerformQuickAction resolves the action and invokes fn with it. Lookup
// failures are returned as errors and never mutate state. fn runs without
// the store lock held so it may call back into the store.
func (s *Store) PerformQuickAction(ctx context.Context, conversationID, actionID string, fn func(context.Context, entity.QuickAction) error) error {
	action, err := s.QuickAction(conversationID, actionID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, action)
}

func cloneConv(c *entity.Conversation) *entity.Conversation {
	out := c.Clone()
	return &out
}

func notify(observers []Observer, ch Change) {
	for _, o := range observers {
		o(ch)
	}
}
