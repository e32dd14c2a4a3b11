package getproposaldetail

import (
	"context"

	"loan-review-workers/internal/models"
)

type Input struct {
	ProposalID string `json:"proposalId"`
}

// Output keeps the proposal and its history as separate process variables.
type Output struct {
	Proposal  models.Proposal   `json:"proposal"`
	Decisions []models.Decision `json:"decisions"`
}

// DetailReader is implemented by review.Service.
type DetailReader interface {
	GetDetail(ctx context.Context, proposalID string) (*models.ProposalDetail, error)
}
