package recorddecision

import (
	"context"

	"loan-review-workers/internal/models"
	"loan-review-workers/internal/review"
)

// decisionFields are the job variables forwarded to the review service as the
// decision request; every other process variable is ignored.
var decisionFields = []string{"stage", "decision", "reasons", "comment", "userId"}

type Input struct {
	ProposalID string
	Request    map[string]interface{}
}

type Output struct {
	DecisionID    string              `json:"decisionId"`
	PreviousStage models.Stage        `json:"previousStage"`
	NewStage      models.Stage        `json:"newStage"`
	Decision      models.DecisionType `json:"decision"`
}

// Decider is implemented by review.Service.
type Decider interface {
	Decide(ctx context.Context, proposalID string, raw map[string]interface{}) (*review.DecideResult, error)
}
