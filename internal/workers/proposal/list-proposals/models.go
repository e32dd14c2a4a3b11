package listproposals

import (
	"context"

	"loan-review-workers/internal/models"
)

type Input struct {
	Stage models.Stage `json:"stage"`
}

type Output struct {
	Stage     models.Stage             `json:"stage"`
	Proposals []models.ProposalSummary `json:"proposals"`
	Count     int                      `json:"count"`
}

// Lister is implemented by review.Service.
type Lister interface {
	ListByStage(ctx context.Context, stage models.Stage) ([]models.ProposalSummary, error)
}
