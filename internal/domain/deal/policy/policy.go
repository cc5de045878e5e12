package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vadim/dealroom/internal/domain/deal/dispatcher"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/seed"
	"github.com/vadim/dealroom/internal/domain/deal/session"
	"github.com/vadim/dealroom/internal/domain/deal/store"
)

// ConversationRepository persists each owner's copy of a conversation.
// This interface is defined here (consumer) not in the dao package (provider)
type ConversationRepository interface {
	Upsert(ctx context.Context, ownerID string, conv *entity.Conversation) error
	ListByOwner(ctx context.Context, ownerID string) ([]entity.Conversation, error)
}

// MessageRepository persists messages shared by both sides of a conversation
type MessageRepository interface {
	Insert(ctx context.Context, msg *entity.Message) error
	MarkRead(ctx context.Context, id string, readAt time.Time) error
	ListByConversations(ctx context.Context, conversationIDs []string) ([]entity.Message, error)
}

// EventPublisher fans domain events out to other sessions
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PresenceTracker knows which users are currently online
type PresenceTracker interface {
	Heartbeat(ctx context.Context, userID string) error
	Forget(ctx context.Context, userID string) error
	Online(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// Deps are the collaborators of the policy. Every field except Logger is optional.
type Deps struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Events        EventPublisher
	Presence      PresenceTracker
	Uploader      dispatcher.DocumentUploader
	Seed          *seed.Fixture
	Logger        *slog.Logger
	Now           func() time.Time
	// WriteTimeout bounds each best-effort persistence or publish call
	WriteTimeout time.Duration
}

// Policy orchestrates deal room use-cases on top of per-user sessions
type Policy struct {
	conversations ConversationRepository
	messages      MessageRepository
	events        EventPublisher
	presence      PresenceTracker
	fixture       *seed.Fixture
	logger        *slog.Logger
	now           func() time.Time
	writeTimeout  time.Duration

	sessions *session.Manager
}

// New creates a new deal policy
func New(d Deps) *Policy {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.WriteTimeout == 0 {
		d.WriteTimeout = 5 * time.Second
	}

	p := &Policy{
		conversations: d.Conversations,
		messages:      d.Messages,
		events:        d.Events,
		presence:      d.Presence,
		fixture:       d.Seed,
		logger:        d.Logger,
		now:           d.Now,
		writeTimeout:  d.WriteTimeout,
	}

	p.sessions = session.NewManager(
		session.WithLoader(session.LoaderFunc(p.load)),
		session.WithObserver(p.observer),
		session.WithDispatcherOptions(dispatcher.WithUploader(d.Uploader)),
		session.WithClock(d.Now),
		session.WithLogger(d.Logger),
	)
	return p
}

// Sessions exposes the session manager
func (p *Policy) Sessions() *session.Manager {
	return p.sessions
}

// OpenSession returns the viewer's session, loading it on first use
func (p *Policy) OpenSession(ctx context.Context, viewer store.Viewer) (*session.Session, error) {
	s, err := p.sessions.Open(ctx, viewer)
	if err != nil {
		if errors.Is(err, entity.ErrUnauthorized) {
			return nil, err
		}
		return nil, entity.NetworkFailure("opening session", err)
	}
	return s, nil
}

// CloseSession resets the viewer's store (logout)
func (p *Policy) CloseSession(ctx context.Context, viewer store.Viewer) bool {
	closed := p.sessions.Close(viewer.UserID)
	if p.presence != nil {
		if err := p.presence.Forget(ctx, viewer.UserID); err != nil {
			p.logger.Warn("failed to clear presence", "user_id", viewer.UserID, "error", err)
		}
	}
	return closed
}

// SweepSessions closes sessions idle for longer than idleFor
func (p *Policy) SweepSessions(ctx context.Context, idleFor time.Duration) []string {
	closed := p.sessions.Sweep(idleFor)
	if p.presence != nil {
		for _, id := range closed {
			if err := p.presence.Forget(ctx, id); err != nil {
				p.logger.Warn("failed to clear presence", "user_id", id, "error", err)
			}
		}
	}
	return closed
}

// ListConversationsInput represents input for listing conversations
type ListConversationsInput struct {
	Archived *bool
}

// ListConversations lists the viewer's conversations with live presence
func (p *Policy) ListConversations(ctx context.Context, viewer store.Viewer, in ListConversationsInput) ([]entity.Conversation, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return nil, err
	}
	convs := s.Store.Conversations(store.ListFilter{Archived: in.Archived})
	p.overlayPresence(ctx, convs)
	return convs, nil
}

// GetConversation returns one conversation
func (p *Policy) GetConversation(ctx context.Context, viewer store.Viewer, id string) (*entity.Conversation, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return nil, err
	}
	conv, err := s.Store.Conversation(id)
	if err != nil {
		return nil, entity.AsFailure(err)
	}
	convs := []entity.Conversation{conv}
	p.overlayPresence(ctx, convs)
	return &convs[0], nil
}

// SelectConversation makes a conversation the active one
func (p *Policy) SelectConversation(ctx context.Context, viewer store.Viewer, id string) (*entity.Conversation, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if err := s.Store.SelectConversation(id); err != nil {
		return nil, entity.AsFailure(err)
	}
	conv, err := s.Store.SelectedConversation()
	if err != nil {
		return nil, entity.AsFailure(err)
	}
	return &conv, nil
}

// SelectedConversationOutput is the active conversation with its messages
type SelectedConversationOutput struct {
	Conversation entity.Conversation
	Messages     []entity.Message
}

// SelectedConversation returns the active conversation and its messages
func (p *Policy) SelectedConversation(ctx context.Context, viewer store.Viewer) (*SelectedConversationOutput, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return nil, err
	}
	conv, err := s.Store.SelectedConversation()
	if err != nil {
		return nil, entity.AsFailure(err)
	}
	return &SelectedConversationOutput{
		Conversation: conv,
		Messages:     s.Store.Messages(),
	}, nil
}

// GetMessages returns a conversation's messages in send order
func (p *Policy) GetMessages(ctx context.Context, viewer store.Viewer, conversationID string) ([]entity.Message, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Store.MessagesFor(conversationID)
	if err != nil {
		return nil, entity.AsFailure(err)
	}
	return msgs, nil
}

// SendMessage posts a text message
func (p *Policy) SendMessage(ctx context.Context, viewer store.Viewer, conversationID, text string) (*entity.Message, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return nil, err
	}
	return s.Dispatcher.SendText(ctx, conversationID, text)
}

// MarkMessageRead marks one message read
func (p *Policy) MarkMessageRead(ctx context.Context, viewer store.Viewer, messageID string) (*entity.Message, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return nil, err
	}
	msg, err := s.Store.MarkRead(messageID)
	if err != nil {
		return nil, entity.AsFailure(err)
	}
	return &msg, nil
}

// MarkConversationRead marks all inbound messages of a conversation read
func (p *Policy) MarkConversationRead(ctx context.Context, viewer store.Viewer, conversationID string) (int, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return 0, err
	}
	n, err := s.Store.MarkConversationRead(conversationID)
	if err != nil {
		return 0, entity.AsFailure(err)
	}
	return n, nil
}

// SetPinned pins or unpins a conversation
func (p *Policy) SetPinned(ctx context.Context, viewer store.Viewer, conversationID string, pinned bool) (*entity.Conversation, error) {
	return p.updateConversation(ctx, viewer, func(st *store.Store) (entity.Conversation, error) {
		return st.SetPinned(conversationID, pinned)
	})
}

// SetArchived archives or restores a conversation
func (p *Policy) SetArchived(ctx context.Context, viewer store.Viewer, conversationID string, archived bool) (*entity.Conversation, error) {
	return p.updateConversation(ctx, viewer, func(st *store.Store) (entity.Conversation, error) {
		return st.SetArchived(conversationID, archived)
	})
}

// SetStatus replaces the free-text status shown in the conversation list
func (p *Policy) SetStatus(ctx context.Context, viewer store.Viewer, conversationID, status string) (*entity.Conversation, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		fe := entity.FieldErrors{}
		fe.Add("status", "status is required")
		return nil, fe.Err()
	}
	return p.updateConversation(ctx, viewer, func(st *store.Store) (entity.Conversation, error) {
		return st.SetStatus(conversationID, status)
	})
}

// UpdateContext shallow-merges a partial conversation context
func (p *Policy) UpdateContext(ctx context.Context, viewer store.Viewer, conversationID string, patch entity.ContextPatch) (*entity.Conversation, error) {
	return p.updateConversation(ctx, viewer, func(st *store.Store) (entity.Conversation, error) {
		return st.UpdateConversationContext(conversationID, patch)
	})
}

// UpdateStage moves a conversation through the stage transition table
func (p *Policy) UpdateStage(ctx context.Context, viewer store.Viewer, conversationID string, stage entity.TransactionStage) (*entity.Conversation, error) {
	return p.updateConversation(ctx, viewer, func(st *store.Store) (entity.Conversation, error) {
		return st.UpdateStage(conversationID, stage)
	})
}

// UpdateTransactionState shallow-merges transaction flags
func (p *Policy) UpdateTransactionState(ctx context.Context, viewer store.Viewer, conversationID string, patch entity.TransactionStatePatch) (*entity.Conversation, error) {
	return p.updateConversation(ctx, viewer, func(st *store.Store) (entity.Conversation, error) {
		return st.UpdateTransactionState(conversationID, patch)
	})
}

// UpdateProgress shallow-merges the progress description
func (p *Policy) UpdateProgress(ctx context.Context, viewer store.Viewer, conversationID string, patch entity.ProgressPatch) (*entity.Conversation, error) {
	return p.updateConversation(ctx, viewer, func(st *store.Store) (entity.Conversation, error) {
		return st.UpdateProgress(conversationID, patch)
	})
}

// PerformActionOutput represents the outcome of a quick action
type PerformActionOutput struct {
	Message      *entity.Message
	Conversation entity.Conversation
}

// PerformAction executes a quick action through the viewer's dispatcher
func (p *Policy) PerformAction(ctx context.Context, viewer store.Viewer, conversationID, actionID string, in dispatcher.Input) (*PerformActionOutput, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return nil, err
	}
	msg, err := s.Dispatcher.Dispatch(ctx, conversationID, actionID, in)
	if err != nil {
		return nil, err
	}
	conv, err := s.Store.Conversation(conversationID)
	if err != nil {
		return nil, entity.AsFailure(err)
	}
	return &PerformActionOutput{Message: msg, Conversation: conv}, nil
}

// Heartbeat marks the viewer online
func (p *Policy) Heartbeat(ctx context.Context, viewer store.Viewer) error {
	if p.presence == nil {
		return nil
	}
	if err := p.presence.Heartbeat(ctx, viewer.UserID); err != nil {
		return entity.NetworkFailure("updating presence", err)
	}
	return nil
}

func (p *Policy) updateConversation(ctx context.Context, viewer store.Viewer, fn func(*store.Store) (entity.Conversation, error)) (*entity.Conversation, error) {
	s, err := p.OpenSession(ctx, viewer)
	if err != nil {
		return nil, err
	}
	conv, err := fn(s.Store)
	if err != nil {
		return nil, entity.AsFailure(err)
	}
	return &conv, nil
}

// overlayPresence sets the participant online flags from the presence tracker.
// Presence is advisory; lookup errors leave the stored flags in place.
func (p *Policy) overlayPresence(ctx context.Context, convs []entity.Conversation) {
	if p.presence == nil || len(convs) == 0 {
		return
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.Participant.ID)
	}
	online, err := p.presence.Online(ctx, ids)
	if err != nil {
		p.logger.Warn("failed to read presence", "error", err)
		return
	}
	for i := range convs {
		convs[i].Participant.Online = online[convs[i].Participant.ID]
	}
}

func (p *Policy) writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.writeTimeout)
}

func wrapLoad(what string, err error) error {
	return fmt.Errorf("loading %s: %w", what, err)
}
