package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"loan-review-workers/internal/models"
)

// MemoryStore keeps proposals and decisions in process. Values are copied on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	opts      options
	proposals map[string]*models.Proposal
	decisions map[string][]models.Decision
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:      applyOptions(opts),
		proposals: make(map[string]*models.Proposal),
		decisions: make(map[string][]models.Decision),
	}
}

func (s *MemoryStore) Create(ctx context.Context, payload models.NormalizedProposal) (*models.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored, err := copyPayload(payload)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	p := &models.Proposal{
		ID:          s.opts.newID(),
		Stage:       models.StageDocReview,
		SubmittedAt: now,
		UpdatedAt:   now,
		Payload:     stored,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.ID]; exists {
		return nil, fmt.Errorf("proposal id %s already exists", p.ID)
	}
	s.proposals[p.ID] = p
	return copyProposal(p)
}

// Get returns nil, nil when id is unknown.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, nil
	}
	return copyProposal(p)
}

func (s *MemoryStore) ListByStage(ctx context.Context, stage models.Stage) ([]models.ProposalSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ProposalSummary, 0)
	for _, p := range s.proposals {
		if p.Stage == stage {
			out = append(out, p.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RecordDecision appends d and moves the proposal from d.Stage to newStage
// under one lock, so readers see both effects or neither.
func (s *MemoryStore) RecordDecision(ctx context.Context, d models.Decision, newStage models.Stage) (*models.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[d.ProposalID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Stage != d.Stage {
		return nil, ErrStageConflict
	}

	stored := copyDecision(d)
	p.Stage = newStage
	p.UpdatedAt = d.CreatedAt
	s.decisions[d.ProposalID] = append(s.decisions[d.ProposalID], stored)

	out := copyDecision(stored)
	return &out, nil
}

// GetDetail returns nil, nil when id is unknown.
func (s *MemoryStore) GetDetail(ctx context.Context, id string) (*models.ProposalDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, nil
	}
	cp, err := copyProposal(p)
	if err != nil {
		return nil, err
	}

	history := s.decisions[id]
	decisions := make([]models.Decision, len(history))
	for i, d := range history {
		decisions[i] = copyDecision(d)
	}
	// appended in creation order; stable sort keeps ties in that order
	sort.SliceStable(decisions, func(i, j int) bool {
		return decisions[i].CreatedAt.Before(decisions[j].CreatedAt)
	})
	return &models.ProposalDetail{Proposal: *cp, Decisions: decisions}, nil
}

// copyPayload deep-copies through JSON, which also covers the opaque formData.
func copyPayload(p models.NormalizedProposal) (models.NormalizedProposal, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return models.NormalizedProposal{}, fmt.Errorf("encode payload: %w", err)
	}
	var out models.NormalizedProposal
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.NormalizedProposal{}, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func copyProposal(p *models.Proposal) (*models.Proposal, error) {
	payload, err := copyPayload(p.Payload)
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.Payload = payload
	return &cp, nil
}

func copyDecision(d models.Decision) models.Decision {
	cp := d
	cp.Reasons = append([]string{}, d.Reasons...)
	if d.Comment != nil {
		c := *d.Comment
		cp.Comment = &c
	}
	return cp
}
