package entity

// TransactionStage represents the deal-progress phase of a conversation
type TransactionStage string

const (
	StageInquiry      TransactionStage = "inquiry"
	StageNDA          TransactionStage = "nda"
	StageOffer        TransactionStage = "offer"
	StageDueDiligence TransactionStage = "due_diligence"
	StageTransaction  TransactionStage = "transaction"
	StageCompleted    TransactionStage = "completed"
)

// Stages lists every stage in progression order
var Stages = []TransactionStage{
	StageInquiry,
	StageNDA,
	StageOffer,
	StageDueDiligence,
	StageTransaction,
	StageCompleted,
}

// Index returns the position of the stage in the progression, or -1 if unknown
func (s TransactionStage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValid returns true if the stage is one of the known stages
func (s TransactionStage) IsValid() bool {
	return s.Index() >= 0
}

// Next returns the stage that follows s. The second value is false for completed or unknown stages.
func (s TransactionStage) Next() (TransactionStage, bool) {
	i := s.Index()
	if i < 0 || i == len(Stages)-1 {
		return "", false
	}
	return Stages[i+1], true
}

// AtLeast reports whether s is at or past other in the progression
func (s TransactionStage) AtLeast(other TransactionStage) bool {
	return s.Index() >= other.Index()
}

// stageTransitions is the table of legal predecessor -> successor pairs.
// Only the single forward step is allowed; there is no reopen.
var stageTransitions = map[TransactionStage]TransactionStage{
	StageInquiry:      StageNDA,
	StageNDA:          StageOffer,
	StageOffer:        StageDueDiligence,
	StageDueDiligence: StageTransaction,
	StageTransaction:  StageCompleted,
}

// ValidateTransition checks whether moving from one stage to another is legal.
// Re-applying the current stage is allowed and treated as a no-op by callers.
func ValidateTransition(from, to TransactionStage) error {
	if !to.IsValid() {
		return ErrInvalidStage
	}
	if from == to {
		return nil
	}
	if next, ok := stageTransitions[from]; ok && next == to {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// StageGuard returns the transaction flag that must be set before entering the stage
func StageGuard(to TransactionStage, state TransactionState) bool {
	switch to {
	case StageOffer:
		return state.HasNDA
	case StageDueDiligence:
		return state.HasOffer
	case StageTransaction:
		return state.HasDueDiligence
	case StageCompleted:
		return state.HasTransaction
	default:
		return true
	}
}

// ClampPercent bounds a percentage to [0, 100]
func ClampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// OverallProgress derives the overall deal percentage from the current stage
// and the stage-local progress. Each stage before completed covers an equal
// share of the range; completed is always 100.
func OverallProgress(stage TransactionStage, stageProgress int) int {
	i := stage.Index()
	if i < 0 {
		return 0
	}
	if stage == StageCompleted {
		return 100
	}
	span := len(Stages) - 1
	return ClampPercent((i*100 + ClampPercent(stageProgress)) / span)
}
