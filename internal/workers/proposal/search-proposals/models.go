package searchproposals

import (
	"context"

	"loan-review-workers/internal/models"
	"loan-review-workers/internal/search"
)

type Input struct {
	Query string       `json:"query"`
	Stage models.Stage `json:"stage,omitempty"`
	Limit int          `json:"limit,omitempty"`
}

type Output struct {
	Total     int                      `json:"total"`
	Count     int                      `json:"count"`
	Proposals []models.ProposalSummary `json:"proposals"`
}

// Searcher is implemented by search.Index.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}
