package review

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"loan-review-workers/internal/common/errors"
	"loan-review-workers/internal/common/logger"
	"loan-review-workers/internal/common/metrics"
	"loan-review-workers/internal/common/validation"
	"loan-review-workers/internal/lock"
	"loan-review-workers/internal/models"
	"loan-review-workers/internal/store"
)

const defaultLockWait = 5 * time.Second

type SubmitResult struct {
	ProposalID  string       `json:"proposalId"`
	Stage       models.Stage `json:"stage"`
	SubmittedAt time.Time    `json:"submittedAt"`
}

type DecideResult struct {
	DecisionID    string              `json:"decisionId"`
	PreviousStage models.Stage        `json:"previousStage"`
	NewStage      models.Stage        `json:"newStage"`
	Decision      models.DecisionType `json:"decision"`
	Record        *models.Decision    `json:"-"`
}

type ServiceOptions struct {
	Repository Repository
	Locker     lock.Locker
	// LockBackend labels lock wait metrics.
	LockBackend string
	LockWait    time.Duration
	Indexer     Indexer
	Logger      logger.Logger
	Tracer      trace.Tracer
	Now         func() time.Time
	NewID       func() string
}

// Service runs submissions and decisions against a Repository. Decisions on
// the same proposal are serialized through the Locker.
type Service struct {
	repo        Repository
	locker      lock.Locker
	lockBackend string
	lockWait    time.Duration
	indexer     Indexer
	logger      logger.Logger
	tracer      trace.Tracer
	now         func() time.Time
	newID       func() string
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("review service requires a repository")
	}

	s := &Service{
		repo:        opts.Repository,
		locker:      opts.Locker,
		lockBackend: opts.LockBackend,
		lockWait:    opts.LockWait,
		indexer:     opts.Indexer,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
		s.lockBackend = "memory"
	}
	if s.lockWait <= 0 {
		s.lockWait = defaultLockWait
	}
	if s.logger == nil {
		s.logger = logger.NewNoOpLogger()
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("review")
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.logger = s.logger.WithFields(map[string]interface{}{"component": "review"})
	return s, nil
}

// Submit normalizes, validates and stores a raw submission. Nothing is
// persisted when validation fails.
func (s *Service) Submit(ctx context.Context, raw map[string]interface{}) (*SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "review.Submit")
	defer span.End()

	payload, env, err := Prepare(raw)
	if env.Wrapped {
		s.logger.Debug("submission arrived in an envelope", env.LogFields())
	}
	if err != nil {
		outcome := "failed"
		if errors.HasCode(err, errors.ErrCodeMalformedInput) {
			outcome = "malformed"
		}
		metrics.ProposalsSubmitted.WithLabelValues(outcome).Inc()
		recordSpanError(span, err)
		return nil, err
	}

	proposal, err := s.repo.Create(ctx, payload)
	if err != nil {
		metrics.ProposalsSubmitted.WithLabelValues("failed").Inc()
		return nil, s.internal(span, "create proposal", err)
	}
	metrics.ProposalsSubmitted.WithLabelValues("accepted").Inc()
	span.SetAttributes(attribute.String("proposal.id", proposal.ID))

	s.logger.Info("proposal submitted", map[string]interface{}{
		"proposalId":  proposal.ID,
		"groupId":     payload.GroupID,
		"memberCount": len(payload.Members),
		"totalAmount": payload.TotalAmount,
	})
	s.index(ctx, proposal.Summary())

	return &SubmitResult{
		ProposalID:  proposal.ID,
		Stage:       proposal.Stage,
		SubmittedAt: proposal.SubmittedAt,
	}, nil
}

// Decide applies a raw decision request to a proposal. The proposal is read,
// the transition computed and the decision recorded while holding the
// proposal's lock; the repository compare-and-set catches any writer that
// bypasses the lock.
func (s *Service) Decide(ctx context.Context, proposalID string, raw map[string]interface{}) (*DecideResult, error) {
	ctx, span := s.tracer.Start(ctx, "review.Decide", trace.WithAttributes(attribute.String("proposal.id", proposalID)))
	defer span.End()

	if strings.TrimSpace(proposalID) == "" {
		err := errors.NewMalformedInputError([]validation.ValidationError{{
			Field:   "proposalId",
			Code:    validation.CodeRequiredFieldMissing,
			Message: "proposalId is required",
		}})
		recordSpanError(span, err)
		return nil, err
	}

	req, err := ParseDecisionRequest(raw)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("decision.type", string(req.Decision)),
		attribute.String("decision.claimed_stage", string(req.Stage)),
	)

	release, err := s.acquire(ctx, proposalID)
	if err != nil {
		return nil, s.internal(span, "acquire proposal lock", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.Warn("failed to release proposal lock", map[string]interface{}{
				"proposalId": proposalID,
				"error":      err,
			})
		}
	}()

	proposal, err := s.repo.Get(ctx, proposalID)
	if err != nil {
		return nil, s.internal(span, "load proposal", err)
	}
	if proposal == nil {
		err := errors.NewProposalNotFoundError(proposalID)
		recordSpanError(span, err)
		return nil, err
	}

	newStage, err := NextStage(proposal.Stage, req)
	if err != nil {
		return nil, s.rejected(span, proposalID, err)
	}

	decision := models.Decision{
		ID:         s.newID(),
		ProposalID: proposalID,
		Stage:      proposal.Stage,
		Decision:   req.Decision,
		Reasons:    req.Reasons,
		Comment:    req.Comment,
		UserID:     req.UserID,
		CreatedAt:  s.now(),
	}
	if decision.Reasons == nil {
		decision.Reasons = []string{}
	}

	recorded, err := s.repo.RecordDecision(ctx, decision, newStage)
	switch {
	case stderrors.Is(err, store.ErrStageConflict):
		return nil, s.staleAfterConflict(ctx, span, proposalID, req)
	case stderrors.Is(err, store.ErrNotFound):
		nf := errors.NewProposalNotFoundError(proposalID)
		recordSpanError(span, nf)
		return nil, nf
	case err != nil:
		return nil, s.internal(span, "record decision", err)
	}

	metrics.DecisionsRecorded.WithLabelValues(string(req.Decision), string(newStage)).Inc()
	span.SetAttributes(attribute.String("decision.new_stage", string(newStage)))
	s.logger.Info("decision recorded", map[string]interface{}{
		"proposalId":    proposalID,
		"decisionId":    recorded.ID,
		"decision":      string(req.Decision),
		"previousStage": string(proposal.Stage),
		"newStage":      string(newStage),
		"userId":        req.UserID,
	})

	summary := proposal.Summary()
	summary.Stage = newStage
	s.index(ctx, summary)

	return &DecideResult{
		DecisionID:    recorded.ID,
		PreviousStage: proposal.Stage,
		NewStage:      newStage,
		Decision:      recorded.Decision,
		Record:        recorded,
	}, nil
}

// ListByStage returns summaries at stage, oldest submission first.
func (s *Service) ListByStage(ctx context.Context, stage models.Stage) ([]models.ProposalSummary, error) {
	ctx, span := s.tracer.Start(ctx, "review.ListByStage", trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()

	if !stage.Valid() {
		err := errors.NewMalformedInputError([]validation.ValidationError{{
			Field:   "stage",
			Code:    validation.CodeInvalidEnumValue,
			Message: fmt.Sprintf("stage must be one of %s", strings.Join(models.StageNames(), ", ")),
		}})
		recordSpanError(span, err)
		return nil, err
	}

	summaries, err := s.repo.ListByStage(ctx, stage)
	if err != nil {
		return nil, s.internal(span, "list proposals", err)
	}
	return summaries, nil
}

func (s *Service) GetDetail(ctx context.Context, proposalID string) (*models.ProposalDetail, error) {
	ctx, span := s.tracer.Start(ctx, "review.GetDetail", trace.WithAttributes(attribute.String("proposal.id", proposalID)))
	defer span.End()

	detail, err := s.repo.GetDetail(ctx, proposalID)
	if err != nil {
		return nil, s.internal(span, "load proposal detail", err)
	}
	if detail == nil {
		err := errors.NewProposalNotFoundError(proposalID)
		recordSpanError(span, err)
		return nil, err
	}
	return detail, nil
}

// GetDecision finds one decision in a proposal's history.
func (s *Service) GetDecision(ctx context.Context, proposalID, decisionID string) (*models.ProposalDetail, *models.Decision, error) {
	detail, err := s.GetDetail(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	for i := range detail.Decisions {
		if detail.Decisions[i].ID == decisionID {
			return detail, &detail.Decisions[i], nil
		}
	}
	return nil, nil, errors.NewDecisionNotFoundError(proposalID, decisionID)
}

func (s *Service) acquire(ctx context.Context, proposalID string) (lock.Release, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	start := time.Now()
	release, err := s.locker.Lock(lockCtx, proposalID)
	metrics.LockWaitDuration.WithLabelValues(s.lockBackend).Observe(time.Since(start).Seconds())
	return release, err
}

// staleAfterConflict reports a lost compare-and-set as a stale decision
// against the stage the winner moved the proposal to.
func (s *Service) staleAfterConflict(ctx context.Context, span trace.Span, proposalID string, req models.DecisionRequest) error {
	current, err := s.repo.Get(ctx, proposalID)
	if err != nil {
		return s.internal(span, "reload proposal after stage conflict", err)
	}
	if current == nil {
		nf := errors.NewProposalNotFoundError(proposalID)
		recordSpanError(span, nf)
		return nf
	}
	return s.rejected(span, proposalID, &TransitionError{
		Current:  current.Stage,
		Claimed:  req.Stage,
		Decision: req.Decision,
		Rule:     RuleStageMismatch,
	})
}

func (s *Service) rejected(span trace.Span, proposalID string, err error) error {
	var te *TransitionError
	if !stderrors.As(err, &te) {
		return s.internal(span, "compute transition", err)
	}
	metrics.TransitionsRejected.WithLabelValues(string(te.Rule)).Inc()
	s.logger.Info("decision rejected", map[string]interface{}{
		"proposalId":   proposalID,
		"rule":         string(te.Rule),
		"currentStage": string(te.Current),
		"claimedStage": string(te.Claimed),
		"decision":     string(te.Decision),
	})
	stdErr := errors.NewInvalidTransitionError(string(te.Current), string(te.Claimed), string(te.Decision), string(te.Rule))
	recordSpanError(span, stdErr)
	return stdErr
}

// internal logs the cause and returns the opaque InternalFailure.
func (s *Service) internal(span trace.Span, op string, cause error) error {
	s.logger.Error("review operation failed", map[string]interface{}{
		"operation": op,
		"error":     cause,
	})
	span.RecordError(cause)
	span.SetStatus(codes.Error, op)
	return errors.NewInternalFailureError(fmt.Errorf("%s: %w", op, cause))
}

func (s *Service) index(ctx context.Context, summary models.ProposalSummary) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexProposal(ctx, summary); err != nil {
		s.logger.Warn("failed to index proposal", map[string]interface{}{
			"proposalId": summary.ID,
			"error":      err,
		})
	}
}

func recordSpanError(span trace.Span, err error) {
	if stdErr, ok := errors.As(err); ok {
		span.SetAttributes(attribute.String("error.code", string(stdErr.Code)))
	}
	span.SetStatus(codes.Error, err.Error())
}
