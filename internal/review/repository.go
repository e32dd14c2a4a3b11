package review

import (
	"context"

	"loan-review-workers/internal/models"
)

// Repository is the storage contract the review core relies on. Get and
// GetDetail return nil, nil for an unknown id.
//
// RecordDecision must be atomic: it appends d and moves the proposal from
// d.Stage to newStage as one unit, failing with store.ErrStageConflict when
// the proposal is no longer at d.Stage. Implemented by store.MemoryStore and
// store.PostgresStore.
type Repository interface {
	Create(ctx context.Context, payload models.NormalizedProposal) (*models.Proposal, error)
	Get(ctx context.Context, id string) (*models.Proposal, error)
	ListByStage(ctx context.Context, stage models.Stage) ([]models.ProposalSummary, error)
	RecordDecision(ctx context.Context, d models.Decision, newStage models.Stage) (*models.Decision, error)
	GetDetail(ctx context.Context, id string) (*models.ProposalDetail, error)
}

// Indexer receives proposal summaries after every change. Indexing is best
// effort; a failure never fails the operation that triggered it.
type Indexer interface {
	IndexProposal(ctx context.Context, summary models.ProposalSummary) error
}
