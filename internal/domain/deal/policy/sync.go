package policy

import (
	"context"
	"time"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/store"
)

// EventKind names a cross-session event
type EventKind string

const (
	EventMessageAdded EventKind = "message_added"
	EventStateChanged EventKind = "state_changed"
)

// Event is a change made in one session that the counterpart's session mirrors
type Event struct {
	Kind           EventKind
	ConversationID string
	SenderID       string
	RecipientID    string
	Message        *entity.Message
	State          *entity.TransactionState
	OccurredAt     time.Time
}

// load builds a new session's data. Persisted conversations win; a viewer
// with none gets the seed fixture, written through when a repository exists.
// Written-through fixtures carry owner-derived ids.
func (p *Policy) load(ctx context.Context, viewer store.Viewer) ([]entity.Conversation, []entity.Message, error) {
	if p.conversations != nil {
		convs, err := p.conversations.ListByOwner(ctx, viewer.UserID)
		if err != nil {
			return nil, nil, wrapLoad("conversations", err)
		}
		if len(convs) > 0 {
			var msgs []entity.Message
			if p.messages != nil {
				ids := make([]string, 0, len(convs))
				for _, c := range convs {
					ids = append(ids, c.ID)
				}
				if msgs, err = p.messages.ListByConversations(ctx, ids); err != nil {
					return nil, nil, wrapLoad("messages", err)
				}
				msgs = addressedTo(msgs, viewer.UserID)
			}
			reconcile(convs, msgs, viewer.UserID)
			return convs, msgs, nil
		}
	}

	if p.fixture == nil {
		return nil, nil, nil
	}
	if p.conversations == nil && p.messages == nil {
		convs, msgs := p.fixture.For(viewer.UserID)
		return convs, msgs, nil
	}
	convs, msgs := p.fixture.Owned(viewer.UserID)
	p.persistSeed(ctx, viewer, convs, msgs)
	return convs, msgs, nil
}

func (p *Policy) persistSeed(ctx context.Context, viewer store.Viewer, convs []entity.Conversation, msgs []entity.Message) {
	if p.conversations == nil {
		return
	}
	for i := range convs {
		if err := p.conversations.Upsert(ctx, viewer.UserID, &convs[i]); err != nil {
			p.logger.Warn("failed to persist seed conversation", "conversation_id", convs[i].ID, "error", err)
		}
	}
	if p.messages == nil {
		return
	}
	for i := range msgs {
		if err := p.messages.Insert(ctx, &msgs[i]); err != nil {
			p.logger.Warn("failed to persist seed message", "message_id", msgs[i].ID, "error", err)
		}
	}
}

// addressedTo keeps the messages the viewer sent or received
func addressedTo(msgs []entity.Message, userID string) []entity.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if m.SenderID == userID || m.RecipientID == userID || m.RecipientID == "" {
			out = append(out, m)
		}
	}
	return out
}

// reconcile recomputes list snapshots from the shared message log, since
// messages delivered while the owner was offline never touched their row.
func reconcile(convs []entity.Conversation, msgs []entity.Message, viewerID string) {
	byID := make(map[string]*entity.Conversation, len(convs))
	for i := range convs {
		byID[convs[i].ID] = &convs[i]
	}

	unread := make(map[string]int, len(convs))
	for _, m := range msgs {
		c, ok := byID[m.ConversationID]
		if !ok {
			continue
		}
		if m.SenderID != viewerID && !m.IsRead {
			unread[c.ID]++
		}
		if !m.SentAt.Before(c.LastMessage.Timestamp) {
			c.LastMessage = entity.LastMessage{
				Content:   m.Content,
				Timestamp: m.SentAt,
				IsRead:    m.IsRead,
				Sender:    m.SenderID,
				Type:      m.Type,
			}
			if m.SentAt.After(c.Context.LastActivity) {
				c.Context.LastActivity = m.SentAt
			}
		}
	}
	if len(msgs) == 0 {
		return
	}
	for i := range convs {
		convs[i].UnreadCount = unread[convs[i].ID]
	}
}

// observer persists and publishes every change of a viewer's store.
// Both are best-effort: the in-memory state is already committed.
func (p *Policy) observer(viewer store.Viewer) store.Observer {
	return func(ch store.Change) {
		if ch.Kind == store.ChangeReset {
			return
		}

		ctx, cancel := p.writeContext()
		defer cancel()

		p.persist(ctx, viewer, ch)
		if !ch.Remote {
			p.publish(ctx, viewer, ch)
		}
	}
}

func (p *Policy) persist(ctx context.Context, viewer store.Viewer, ch store.Change) {
	// remote messages were stored by the session that produced them
	if p.messages != nil && ch.Message != nil && !ch.Remote {
		var err error
		switch ch.Kind {
		case store.ChangeMessageAdded:
			err = p.messages.Insert(ctx, ch.Message)
		case store.ChangeMessageRead:
			if ch.Message.ReadAt != nil {
				err = p.messages.MarkRead(ctx, ch.Message.ID, *ch.Message.ReadAt)
			}
		}
		if err != nil {
			p.logger.Warn("failed to persist message",
				"user_id", viewer.UserID,
				"message_id", ch.Message.ID,
				"error", err,
			)
		}
	}

	if p.conversations != nil && ch.Conversation != nil {
		if err := p.conversations.Upsert(ctx, viewer.UserID, ch.Conversation); err != nil {
			p.logger.Warn("failed to persist conversation",
				"user_id", viewer.UserID,
				"conversation_id", ch.ConversationID,
				"error", err,
			)
		}
	}
}

func (p *Policy) publish(ctx context.Context, viewer store.Viewer, ch store.Change) {
	if ch.Conversation == nil {
		return
	}

	ev := Event{
		ConversationID: ch.ConversationID,
		SenderID:       viewer.UserID,
		RecipientID:    ch.Conversation.Participant.ID,
		OccurredAt:     p.now(),
	}
	switch ch.Kind {
	case store.ChangeMessageAdded:
		ev.Kind = EventMessageAdded
		ev.Message = ch.Message
		if ch.Message != nil && ch.Message.RecipientID != "" {
			ev.RecipientID = ch.Message.RecipientID
		}
	case store.ChangeContextUpdated, store.ChangeStageChanged:
		ev.Kind = EventStateChanged
		state := ch.Conversation.Context.TransactionState
		ev.State = &state
	default:
		return
	}
	if ev.RecipientID == "" || ev.RecipientID == viewer.UserID {
		return
	}

	if p.events == nil {
		// single-process mode: deliver straight to the recipient's session
		p.HandleEvent(ctx, ev)
		return
	}
	if err := p.events.Publish(ctx, ev); err != nil {
		p.logger.Warn("failed to publish event",
			"kind", ev.Kind,
			"conversation_id", ev.ConversationID,
			"error", err,
		)
	}
}

// HandleEvent applies an event from another session to the recipient's open
// session. Recipients without an open session pick the change up on next load.
func (p *Policy) HandleEvent(ctx context.Context, ev Event) {
	if ev.RecipientID == "" || ev.RecipientID == ev.SenderID {
		return
	}

	var (
		delivered bool
		err       error
	)
	switch ev.Kind {
	case EventMessageAdded:
		if ev.Message == nil {
			return
		}
		delivered, err = p.sessions.DeliverMessage(ev.RecipientID, *ev.Message)
	case EventStateChanged:
		if ev.State == nil {
			return
		}
		delivered, err = p.sessions.DeliverState(ev.RecipientID, ev.ConversationID, *ev.State)
	default:
		p.logger.Debug("ignoring unknown event", "kind", ev.Kind)
		return
	}

	if err != nil {
		p.logger.Debug("event not applied",
			"kind", ev.Kind,
			"recipient_id", ev.RecipientID,
			"conversation_id", ev.ConversationID,
			"error", err,
		)
		return
	}
	if delivered {
		p.logger.Debug("event delivered",
			"kind", ev.Kind,
			"recipient_id", ev.RecipientID,
			"conversation_id", ev.ConversationID,
		)
	}
}
