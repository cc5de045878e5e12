package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

var fixedNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTracker(role entity.Role) *Tracker {
	return New(role, WithClock(func() time.Time { return fixedNow }))
}

func contextAt(stage entity.TransactionStage, state entity.TransactionState) *entity.ConversationContext {
	state.CurrentStage = stage
	return &entity.ConversationContext{
		ID:               "ctx-1",
		CurrentStage:     stage,
		TransactionState: state,
	}
}

func TestTracker_UpdateStage(t *testing.T) {
	tr := newTracker(entity.RoleBuyer)
	c := contextAt(entity.StageInquiry, entity.TransactionState{Progress: 70})

	changed, err := tr.UpdateStage(c, entity.StageNDA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	if c.CurrentStage != entity.StageNDA || c.TransactionState.CurrentStage != entity.StageNDA {
		t.Errorf("stage fields diverged: %s / %s", c.CurrentStage, c.TransactionState.CurrentStage)
	}
	if c.TransactionState.Progress != 0 {
		t.Errorf("stage progress should reset, got %d", c.TransactionState.Progress)
	}
	if c.Progress.Percentage != 20 {
		t.Errorf("expected overall 20, got %d", c.Progress.Percentage)
	}
	if c.Progress.CurrentStep != "NDA signing" {
		t.Errorf("unexpected current step %q", c.Progress.CurrentStep)
	}
	if !c.LastActivity.Equal(fixedNow) {
		t.Errorf("last activity not stamped: %v", c.LastActivity)
	}
	if len(c.QuickActions) == 0 {
		t.Error("quick actions should be recomputed")
	}
}

func TestTracker_UpdateStage_SameStageIsNoop(t *testing.T) {
	tr := newTracker(entity.RoleBuyer)
	c := contextAt(entity.StageOffer, entity.TransactionState{Progress: 40})

	changed, err := tr.UpdateStage(c, entity.StageOffer)
	if err != nil || changed {
		t.Fatalf("expected silent no-op, got changed=%v err=%v", changed, err)
	}
	if c.TransactionState.Progress != 40 {
		t.Error("no-op must not touch progress")
	}
}

func TestTracker_UpdateStage_Rejected(t *testing.T) {
	tr := newTracker(entity.RoleBuyer)
	c := contextAt(entity.StageInquiry, entity.TransactionState{})

	if _, err := tr.UpdateStage(c, entity.StageCompleted); !errors.Is(err, entity.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if c.CurrentStage != entity.StageInquiry {
		t.Error("rejected transition must not change the stage")
	}
}

func TestTracker_Advance(t *testing.T) {
	tr := newTracker(entity.RoleBuyer)

	t.Run("guard blocks offer without nda", func(t *testing.T) {
		c := contextAt(entity.StageNDA, entity.TransactionState{})
		if _, err := tr.Advance(c); !errors.Is(err, entity.ErrStageGuard) {
			t.Fatalf("expected ErrStageGuard, got %v", err)
		}
		if c.CurrentStage != entity.StageNDA {
			t.Error("stage moved despite guard")
		}
	})

	t.Run("moves forward when flag is set", func(t *testing.T) {
		c := contextAt(entity.StageNDA, entity.TransactionState{HasNDA: true})
		next, err := tr.Advance(c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next != entity.StageOffer || c.CurrentStage != entity.StageOffer {
			t.Errorf("expected offer, got %s", c.CurrentStage)
		}
	})

	t.Run("completed is terminal", func(t *testing.T) {
		c := contextAt(entity.StageCompleted, entity.TransactionState{})
		if _, err := tr.Advance(c); !errors.Is(err, entity.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("completed reports full progress", func(t *testing.T) {
		c := contextAt(entity.StageTransaction, entity.TransactionState{HasTransaction: true})
		if _, err := tr.Advance(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Progress.Percentage != 100 || c.TransactionState.Progress != 100 {
			t.Errorf("expected 100/100, got %d/%d", c.Progress.Percentage, c.TransactionState.Progress)
		}
	})
}

func TestTracker_UpdateTransactionState(t *testing.T) {
	tr := newTracker(entity.RoleBuyer)
	c := contextAt(entity.StageNDA, entity.TransactionState{HasOffer: true})
	yes := true
	progress := 150

	tr.UpdateTransactionState(c, entity.TransactionStatePatch{HasNDA: &yes, Progress: &progress})

	if !c.TransactionState.HasNDA {
		t.Error("HasNDA not merged")
	}
	if !c.TransactionState.HasOffer {
		t.Error("untouched flag was cleared")
	}
	if c.TransactionState.Progress != 100 {
		t.Errorf("progress should clamp to 100, got %d", c.TransactionState.Progress)
	}
	if c.Progress.Percentage != 40 {
		t.Errorf("expected overall 40, got %d", c.Progress.Percentage)
	}
	offer := findAction(t, c.QuickActions, ActionCreateOffer)
	if !offer.Available {
		t.Error("create_offer should become available once the NDA is in place")
	}
}

func TestTracker_UpdateProgress(t *testing.T) {
	tr := newTracker(entity.RoleSeller)
	c := contextAt(entity.StageOffer, entity.TransactionState{})
	pct := -3
	desc := "Waiting for buyer"

	tr.UpdateProgress(c, entity.ProgressPatch{Percentage: &pct, Description: &desc})

	if c.Progress.Percentage != 0 {
		t.Errorf("expected clamped 0, got %d", c.Progress.Percentage)
	}
	if c.Progress.Description != desc {
		t.Errorf("unexpected description %q", c.Progress.Description)
	}
}

func TestTracker_ApplyContextPatch(t *testing.T) {
	tr := newTracker(entity.RoleBuyer)

	t.Run("illegal stage rejects whole patch", func(t *testing.T) {
		c := contextAt(entity.StageInquiry, entity.TransactionState{})
		listing := "listing-9"
		stage := entity.StageOffer
		err := tr.ApplyContextPatch(c, entity.ContextPatch{ListingID: &listing, CurrentStage: &stage})
		if !errors.Is(err, entity.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if c.ListingID != "" {
			t.Error("listing id applied despite rejection")
		}
	})

	t.Run("merges fields and stage", func(t *testing.T) {
		c := contextAt(entity.StageInquiry, entity.TransactionState{})
		stage := entity.StageNDA
		err := tr.ApplyContextPatch(c, entity.ContextPatch{
			CurrentStage:    &stage,
			Participants:    []string{"u1", "u2"},
			BusinessContext: &entity.BusinessContext{Title: "Bakery", Price: 250000, Currency: "EUR"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.CurrentStage != entity.StageNDA || c.TransactionState.CurrentStage != entity.StageNDA {
			t.Error("stage not applied to both fields")
		}
		if len(c.Participants) != 2 || c.BusinessContext == nil || c.BusinessContext.Title != "Bakery" {
			t.Errorf("fields not merged: %+v", c)
		}
	})
}

func TestTracker_ExecuteQuickAction(t *testing.T) {
	tr := newTracker(entity.RoleBuyer)
	c := contextAt(entity.StageInquiry, entity.TransactionState{})
	tr.Refresh(c)

	if _, err := tr.ExecuteQuickAction(c, "missing"); !errors.Is(err, entity.ErrActionNotFound) {
		t.Errorf("expected ErrActionNotFound, got %v", err)
	}
	if _, err := tr.ExecuteQuickAction(c, ActionCreateOffer); !errors.Is(err, entity.ErrActionUnavailable) {
		t.Errorf("expected ErrActionUnavailable, got %v", err)
	}
	a, err := tr.ExecuteQuickAction(c, ActionRequestNDA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Kind != entity.ActionCustom || a.Handler != ActionRequestNDA {
		t.Errorf("unexpected action %+v", a)
	}
}

func TestTracker_Refresh(t *testing.T) {
	tr := newTracker(entity.RoleBuyer)
	c := &entity.ConversationContext{
		CurrentStage:     entity.StageOffer,
		TransactionState: entity.TransactionState{CurrentStage: entity.StageInquiry, Progress: 300},
	}

	tr.Refresh(c)

	if c.TransactionState.CurrentStage != entity.StageOffer {
		t.Errorf("context stage should win, got %s", c.TransactionState.CurrentStage)
	}
	if c.TransactionState.Progress != 100 {
		t.Errorf("expected clamped progress, got %d", c.TransactionState.Progress)
	}

	empty := &entity.ConversationContext{}
	tr.Refresh(empty)
	if empty.CurrentStage != entity.StageInquiry {
		t.Errorf("missing stage should default to inquiry, got %q", empty.CurrentStage)
	}
}

func findAction(t *testing.T, actions []entity.QuickAction, id string) entity.QuickAction {
	t.Helper()
	for _, a := range actions {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("action %q not found", id)
	return entity.QuickAction{}
}
