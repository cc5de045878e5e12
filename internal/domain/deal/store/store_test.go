package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/tracker"
)

const (
	buyerID  = "buyer-1"
	sellerID = "seller-1"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) observe(ch Change) {
	r.mu.Lock()
	r.changes = append(r.changes, ch)
	r.mu.Unlock()
}

func (r *recorder) kinds() []ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeKind, len(r.changes))
	for i, ch := range r.changes {
		out[i] = ch.Kind
	}
	return out
}

func conversation(id string, stage entity.TransactionStage, ts time.Time) entity.Conversation {
	return entity.Conversation{
		ID:          id,
		Participant: entity.Participant{ID: sellerID, Name: "Seller", Role: entity.RoleSeller},
		LastMessage: entity.LastMessage{Content: "hi", Timestamp: ts, Sender: sellerID, Type: entity.MessageTypeText},
		Context: entity.ConversationContext{
			ID:           "ctx-" + id,
			CurrentStage: stage,
			Participants: []string{buyerID, sellerID},
			LastActivity: ts,
		},
	}
}

func newTestStore(t *testing.T) (*Store, *clock, *recorder) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	s := New(Viewer{UserID: buyerID, Role: entity.RoleBuyer}, WithClock(clk.Now), WithObserver(rec.observe))

	base := clk.Now().Add(-time.Hour)
	s.Load(
		[]entity.Conversation{
			conversation("1", entity.StageInquiry, base),
			conversation("2", entity.StageNDA, base.Add(10*time.Minute)),
			conversation("3", entity.StageOffer, base.Add(-10*time.Minute)),
		},
		[]entity.Message{
			{ID: "m1", ConversationID: "1", SenderID: sellerID, RecipientID: buyerID, Content: "Welcome", Type: entity.MessageTypeText, SentAt: base},
		},
	)
	return s, clk, rec
}

func TestStore_SelectAndAddMessage(t *testing.T) {
	s, clk, rec := newTestStore(t)

	if err := s.SelectConversation("1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.Advance(time.Minute)

	err := s.AddMessage(entity.Message{
		ID: "m2", ConversationID: "1", SenderID: buyerID, RecipientID: sellerID,
		Content: "Hello", Type: entity.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 2 || msgs[1].Content != "Hello" {
		t.Fatalf("expected Hello appended, got %+v", msgs)
	}
	if !msgs[1].SentAt.Equal(clk.Now()) {
		t.Errorf("zero SentAt should be stamped, got %v", msgs[1].SentAt)
	}

	c, _ := s.Conversation("1")
	if c.LastMessage.Content != "Hello" || c.LastMessage.Sender != buyerID {
		t.Errorf("last message not refreshed: %+v", c.LastMessage)
	}
	if c.UnreadCount != 0 {
		t.Errorf("own message must not count as unread, got %d", c.UnreadCount)
	}

	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != ChangeMessageAdded {
		t.Errorf("expected one message_added change, got %v", kinds)
	}
}

func TestStore_AddMessage_Rejects(t *testing.T) {
	s, _, rec := newTestStore(t)

	err := s.AddMessage(entity.Message{ID: "x", ConversationID: "404", SenderID: buyerID, Type: entity.MessageTypeText})
	if !errors.Is(err, entity.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}

	err = s.AddMessage(entity.Message{ID: "y", ConversationID: "1", SenderID: buyerID, Type: entity.MessageTypeOffer})
	if !errors.Is(err, entity.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage, got %v", err)
	}

	if len(rec.kinds()) != 0 {
		t.Error("rejected messages must not notify observers")
	}
}

func TestStore_InboundMessageIncrementsUnread(t *testing.T) {
	s, _, _ := newTestStore(t)

	_ = s.AddMessage(entity.Message{ID: "in-1", ConversationID: "2", SenderID: sellerID, Content: "Any questions?", Type: entity.MessageTypeText})
	_ = s.AddMessage(entity.Message{ID: "in-2", ConversationID: "2", SenderID: sellerID, Content: "Ping", Type: entity.MessageTypeText})

	c, _ := s.Conversation("2")
	if c.UnreadCount != 2 {
		t.Fatalf("expected 2 unread, got %d", c.UnreadCount)
	}

	n, err := s.MarkConversationRead("2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 marked, got %d", n)
	}
	c, _ = s.Conversation("2")
	if c.UnreadCount != 0 || !c.LastMessage.IsRead {
		t.Errorf("conversation not read: unread=%d lastRead=%v", c.UnreadCount, c.LastMessage.IsRead)
	}
}

func TestStore_MarkReadIsIdempotent(t *testing.T) {
	s, clk, rec := newTestStore(t)

	first, err := s.MarkRead("m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.IsRead || first.ReadAt == nil {
		t.Fatal("message not marked read")
	}

	clk.Advance(time.Hour)
	second, err := s.MarkRead("m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.ReadAt.Equal(*first.ReadAt) {
		t.Errorf("ReadAt changed from %v to %v", first.ReadAt, second.ReadAt)
	}
	if len(rec.kinds()) != 1 {
		t.Errorf("second MarkRead must not notify, got %v", rec.kinds())
	}

	if _, err := s.MarkRead("nope"); !errors.Is(err, entity.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestStore_MarkReadRefusesOwnMessage(t *testing.T) {
	s, _, rec := newTestStore(t)
	_ = s.AddMessage(entity.Message{
		ID: "mine", ConversationID: "1", SenderID: buyerID, RecipientID: sellerID,
		Content: "Are the accounts audited?", Type: entity.MessageTypeText,
	})

	_, err := s.MarkRead("mine")
	if !errors.Is(err, entity.ErrOwnMessage) {
		t.Fatalf("expected ErrOwnMessage, got %v", err)
	}

	msgs, _ := s.MessagesFor("1")
	for _, m := range msgs {
		if m.ID == "mine" && (m.IsRead || m.ReadAt != nil) {
			t.Error("own message must stay unread for the recipient")
		}
	}
	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != ChangeMessageAdded {
		t.Errorf("refused read must not notify, got %v", kinds)
	}
}

func TestStore_ConversationsOrderByActivity(t *testing.T) {
	s, clk, _ := newTestStore(t)

	// a context change is activity even without a new message
	clk.Advance(time.Minute)
	if _, err := s.UpdateStage("3", entity.StageDueDiligence); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := s.Conversations(ListFilter{})
	if got[0].ID != "3" {
		t.Errorf("expected most recent activity first, got %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestStore_ConversationsOrdering(t *testing.T) {
	s, _, _ := newTestStore(t)

	got := s.Conversations(ListFilter{})
	if got[0].ID != "2" || got[1].ID != "1" || got[2].ID != "3" {
		t.Fatalf("expected newest first, got %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}

	if _, err := s.SetPinned("3", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got = s.Conversations(ListFilter{})
	if got[0].ID != "3" {
		t.Errorf("pinned conversation should lead, got %s", got[0].ID)
	}

	if _, err := s.SetArchived("1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	active := false
	if got := s.Conversations(ListFilter{Archived: &active}); len(got) != 2 {
		t.Errorf("expected 2 active conversations, got %d", len(got))
	}
	archived := true
	if got := s.Conversations(ListFilter{Archived: &archived}); len(got) != 1 || got[0].ID != "1" {
		t.Errorf("expected only conversation 1 archived, got %+v", got)
	}
}

func TestStore_StageInvariant(t *testing.T) {
	s, _, rec := newTestStore(t)

	c, err := s.UpdateStage("1", entity.StageNDA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Context.CurrentStage != entity.StageNDA || c.Context.TransactionState.CurrentStage != entity.StageNDA {
		t.Errorf("stage fields diverged: %+v", c.Context)
	}

	if _, err := s.UpdateStage("1", entity.StageCompleted); !errors.Is(err, entity.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	stored, _ := s.Conversation("1")
	if stored.Context.CurrentStage != entity.StageNDA {
		t.Errorf("rejected change leaked into the store: %s", stored.Context.CurrentStage)
	}

	kinds := rec.kinds()
	if len(kinds) != 1 || kinds[0] != ChangeStageChanged {
		t.Errorf("expected one stage_changed change, got %v", kinds)
	}
	rec.mu.Lock()
	ch := rec.changes[0]
	rec.mu.Unlock()
	if ch.PreviousStage != entity.StageInquiry || ch.Stage != entity.StageNDA {
		t.Errorf("unexpected change stages %s -> %s", ch.PreviousStage, ch.Stage)
	}
}

func TestStore_ContextPatchReportsStageChange(t *testing.T) {
	s, _, rec := newTestStore(t)
	stage := entity.StageOffer

	if _, err := s.UpdateConversationContext("2", entity.ContextPatch{CurrentStage: &stage}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != ChangeStageChanged {
		t.Errorf("expected stage_changed, got %v", kinds)
	}
}

func TestStore_AdvanceStageRespectsGuard(t *testing.T) {
	s, _, _ := newTestStore(t)

	if _, err := s.AdvanceStage("2"); !errors.Is(err, entity.ErrStageGuard) {
		t.Fatalf("expected ErrStageGuard, got %v", err)
	}

	yes := true
	if _, err := s.UpdateTransactionState("2", entity.TransactionStatePatch{HasNDA: &yes}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := s.AdvanceStage("2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Context.CurrentStage != entity.StageOffer {
		t.Errorf("expected offer, got %s", c.Context.CurrentStage)
	}
}

func TestStore_PerformQuickAction(t *testing.T) {
	s, _, rec := newTestStore(t)
	ctx := context.Background()

	called := false
	err := s.PerformQuickAction(ctx, "1", "does-not-exist", func(context.Context, entity.QuickAction) error {
		called = true
		return nil
	})
	if !errors.Is(err, entity.ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}
	if called || len(rec.kinds()) != 0 {
		t.Fatal("unknown action must not run or mutate")
	}

	err = s.PerformQuickAction(ctx, "1", tracker.ActionRequestNDA, func(_ context.Context, a entity.QuickAction) error {
		called = true
		if a.ID != tracker.ActionRequestNDA {
			t.Errorf("unexpected action %s", a.ID)
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected handler to run, err=%v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.PerformQuickAction(cancelled, "1", tracker.ActionRequestNDA, func(context.Context, entity.QuickAction) error {
		t.Error("handler must not run on a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStore_DeliverMessageSkipsDuplicates(t *testing.T) {
	s, _, rec := newTestStore(t)
	msg := entity.Message{ID: "r1", ConversationID: "3", SenderID: sellerID, Content: "Counter offer soon", Type: entity.MessageTypeText}

	if err := s.DeliverMessage(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeliverMessage(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs, _ := s.MessagesFor("3")
	if len(msgs) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(msgs))
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.changes) != 1 || !rec.changes[0].Remote {
		t.Errorf("expected one remote change, got %+v", rec.changes)
	}
}

func TestStore_ConcurrentDeliveriesDeduplicate(t *testing.T) {
	s, _, _ := newTestStore(t)
	msg := entity.Message{ID: "r2", ConversationID: "2", SenderID: sellerID, Content: "Signed copy attached", Type: entity.MessageTypeText}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.DeliverMessage(msg)
		}()
	}
	wg.Wait()

	msgs, _ := s.MessagesFor("2")
	if len(msgs) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(msgs))
	}
	c, _ := s.Conversation("2")
	if c.UnreadCount != 1 {
		t.Errorf("expected 1 unread, got %d", c.UnreadCount)
	}
}

func TestStore_ApplyRemoteState(t *testing.T) {
	s, _, rec := newTestStore(t)

	err := s.ApplyRemoteState("1", entity.TransactionState{
		HasNDA:       true,
		CurrentStage: entity.StageOffer,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ := s.Conversation("1")
	if c.Context.CurrentStage != entity.StageOffer {
		t.Errorf("expected offer, got %s", c.Context.CurrentStage)
	}
	if !c.Context.TransactionState.HasNDA {
		t.Error("flags not mirrored")
	}

	// an older state never moves the stage back
	if err := s.ApplyRemoteState("1", entity.TransactionState{CurrentStage: entity.StageInquiry, HasNDA: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ = s.Conversation("1")
	if c.Context.CurrentStage != entity.StageOffer {
		t.Errorf("stage moved backwards to %s", c.Context.CurrentStage)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, ch := range rec.changes {
		if !ch.Remote {
			t.Errorf("change %s should be remote", ch.Kind)
		}
	}
}

func TestStore_ReadsAreCopies(t *testing.T) {
	s, _, _ := newTestStore(t)

	c, _ := s.Conversation("1")
	c.Context.Participants[0] = "mallory"
	c.IsPinned = true

	again, _ := s.Conversation("1")
	if again.Context.Participants[0] != buyerID || again.IsPinned {
		t.Error("caller mutation leaked into the store")
	}
}

func TestStore_SelectionAndReset(t *testing.T) {
	s, _, rec := newTestStore(t)

	if _, err := s.SelectedConversation(); !errors.Is(err, entity.ErrNoSelection) {
		t.Errorf("expected ErrNoSelection, got %v", err)
	}
	if err := s.SelectConversation("404"); !errors.Is(err, entity.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("no selection should yield no messages, got %d", len(got))
	}

	_ = s.SelectConversation("1")
	s.Reset()

	if got := s.Conversations(ListFilter{}); len(got) != 0 {
		t.Errorf("reset should drop conversations, got %d", len(got))
	}
	if _, err := s.SelectedConversation(); !errors.Is(err, entity.ErrNoSelection) {
		t.Error("reset should clear the selection")
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != ChangeReset {
		t.Errorf("expected reset change, got %v", kinds)
	}
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s, _, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AddMessage(entity.Message{
				ConversationID: "2", SenderID: sellerID, Content: "msg", Type: entity.MessageTypeText,
			})
			_, _ = s.SetPinned("2", i%2 == 0)
		}(i)
	}
	wg.Wait()

	c, _ := s.Conversation("2")
	if c.UnreadCount != 20 {
		t.Errorf("expected 20 unread, got %d", c.UnreadCount)
	}
}
