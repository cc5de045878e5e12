package tracker

import "github.com/vadim/dealroom/internal/domain/deal/entity"

// QuickActions derives the ordered quick actions for a viewer role from the
// transaction state. Actions that never apply to the role are omitted;
// actions that apply later are present but unavailable.
func QuickActions(s entity.TransactionState, role entity.Role) []entity.QuickAction {
	stage := s.CurrentStage
	open := stage != entity.StageCompleted
	actions := make([]entity.QuickAction, 0, 5)

	switch role {
	case entity.RoleBuyer, entity.RoleAdvisor:
		actions = append(actions, entity.QuickAction{
			ID:          ActionRequestNDA,
			Label:       "Request NDA",
			Icon:        "shield",
			Kind:        entity.ActionCustom,
			Handler:     ActionRequestNDA,
			Available:   open && !s.HasNDA,
			Urgency:     entity.UrgencyHigh,
			Description: "Ask the seller for a non-disclosure agreement to unlock confidential documents",
		})
	case entity.RoleSeller:
		actions = append(actions, entity.QuickAction{
			ID:          ActionSignNDA,
			Label:       "Sign NDA",
			Icon:        "signature",
			Kind:        entity.ActionCustom,
			Handler:     ActionSignNDA,
			Available:   !s.HasNDA && stage == entity.StageNDA,
			Urgency:     entity.UrgencyHigh,
			Description: "Countersign the NDA so the buyer can review confidential material",
		})
	}

	if role == entity.RoleBuyer {
		actions = append(actions, entity.QuickAction{
			ID:          ActionCreateOffer,
			Label:       "Make an Offer",
			Icon:        "euro",
			Kind:        entity.ActionCreateOffer,
			Available:   s.HasNDA && (stage == entity.StageNDA || stage == entity.StageOffer),
			Urgency:     urgencyWhen(stage == entity.StageOffer && !s.HasOffer, entity.UrgencyHigh, entity.UrgencyMedium),
			Description: "Submit a formal offer for this business",
		})
	}

	if role == entity.RoleBuyer || role == entity.RoleAdvisor {
		actions = append(actions, entity.QuickAction{
			ID:          ActionRequestDD,
			Label:       "Request Due Diligence",
			Icon:        "search",
			Kind:        entity.ActionRequestDD,
			Available:   s.HasOffer && (stage == entity.StageOffer || stage == entity.StageDueDiligence),
			Urgency:     urgencyWhen(stage == entity.StageDueDiligence, entity.UrgencyHigh, entity.UrgencyMedium),
			Description: "Request documents or information about the business",
		})
	}

	actions = append(actions, entity.QuickAction{
		ID:          ActionShareDocument,
		Label:       "Share Documents",
		Icon:        "file",
		Kind:        entity.ActionShareDocument,
		Available:   open,
		Urgency:     entity.UrgencyLow,
		Description: "Upload files to the deal room",
	})

	next, hasNext := stage.Next()
	advance := entity.QuickAction{
		ID:        ActionAdvanceStage,
		Label:     "Advance Stage",
		Icon:      "arrow-right",
		Kind:      entity.ActionCustom,
		Handler:   ActionAdvanceStage,
		Available: hasNext && entity.StageGuard(next, s),
		Urgency:   entity.UrgencyMedium,
	}
	if hasNext {
		advance.Description = "Move the deal to " + string(next)
	}
	actions = append(actions, advance)

	return actions
}

func urgencyWhen(cond bool, yes, no entity.Urgency) entity.Urgency {
	if cond {
		return yes
	}
	return no
}
