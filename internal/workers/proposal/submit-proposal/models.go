package submitproposal

import (
	"context"
	"time"

	"loan-review-workers/internal/models"
	"loan-review-workers/internal/review"
)

// Input is the submission body exactly as intake sent it, envelope included.
type Input map[string]interface{}

type Output struct {
	ProposalID  string       `json:"proposalId"`
	Stage       models.Stage `json:"stage"`
	SubmittedAt time.Time    `json:"submittedAt"`
}

// Submitter is implemented by review.Service.
type Submitter interface {
	Submit(ctx context.Context, raw map[string]interface{}) (*review.SubmitResult, error)
}
