package review

import (
	"fmt"

	"loan-review-workers/internal/models"
)

// Rule names the guard that refused a decision.
type Rule string

const (
	RuleTerminalStage        Rule = "TERMINAL_STAGE"
	RuleStageMismatch        Rule = "STAGE_MISMATCH"
	RuleInvalidApprovalStage Rule = "INVALID_APPROVAL_STAGE"
	RuleUnknownStage         Rule = "UNKNOWN_STAGE"
	RuleUnknownDecision      Rule = "UNKNOWN_DECISION"
)

// TransitionError is returned when a decision may not be applied. The
// proposal and its history are left untouched.
type TransitionError struct {
	Current  models.Stage
	Claimed  models.Stage
	Decision models.DecisionType
	Rule     Rule
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s rejected at %s (claimed %s): %s",
		e.Decision, e.Current, e.Claimed, e.Rule)
}

// approvals is the forward path taken by APPROVE.
var approvals = map[models.Stage]models.Stage{
	models.StageDocReview:  models.StageRiskReview,
	models.StageRiskReview: models.StageApproved,
}

// NextStage computes the stage a decision leads to, or why it is refused.
// Guards run in order: terminal stage, stale claimed stage, then the decision
// itself. Every (stage, decision) pair has a defined outcome.
func NextStage(current models.Stage, req models.DecisionRequest) (models.Stage, error) {
	reject := func(rule Rule) (models.Stage, error) {
		return current, &TransitionError{Current: current, Claimed: req.Stage, Decision: req.Decision, Rule: rule}
	}

	if !current.Valid() {
		return reject(RuleUnknownStage)
	}
	if current.IsTerminal() {
		return reject(RuleTerminalStage)
	}
	if req.Stage != current {
		return reject(RuleStageMismatch)
	}

	switch req.Decision {
	case models.DecisionReject:
		return models.StageRejected, nil
	case models.DecisionRequestChanges:
		return models.StageChangesRequested, nil
	case models.DecisionApprove:
		next, ok := approvals[current]
		if !ok {
			return reject(RuleInvalidApprovalStage)
		}
		return next, nil
	default:
		return reject(RuleUnknownDecision)
	}
}
