package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"loan-review-workers/internal/models"
)

// PostgresStore persists proposals and decisions in PostgreSQL. The stage
// change and the decision insert of RecordDecision share one transaction.
type PostgresStore struct {
	db   *sql.DB
	opts options
}

func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: applyOptions(opts)}
}

func (s *PostgresStore) Create(ctx context.Context, payload models.NormalizedProposal) (*models.Proposal, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal proposal payload: %w", err)
	}

	now := s.opts.now()
	p := &models.Proposal{
		ID:          s.opts.newID(),
		Stage:       models.StageDocReview,
		SubmittedAt: now,
		UpdatedAt:   now,
		Payload:     payload,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, group_id, stage, payload, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
	`, p.ID, payload.GroupID, string(p.Stage), string(encoded), p.SubmittedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert proposal: %w", err)
	}
	return p, nil
}

// Get returns nil, nil when id is unknown or not a UUID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Proposal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return getProposal(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getProposal(ctx context.Context, q queryRower, id string) (*models.Proposal, error) {
	var (
		p       models.Proposal
		stage   string
		payload []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, stage, payload, submitted_at, updated_at
		FROM proposals
		WHERE id = $1
	`, id).Scan(&p.ID, &stage, &payload, &p.SubmittedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if err := json.Unmarshal(payload, &p.Payload); err != nil {
		return nil, fmt.Errorf("decode proposal payload: %w", err)
	}
	p.Stage = models.Stage(stage)
	return &p, nil
}

func (s *PostgresStore) ListByStage(ctx context.Context, stage models.Stage) ([]models.ProposalSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
		       payload->>'groupId',
		       payload->>'groupName',
		       payload->>'leaderName',
		       COALESCE((payload->>'totalAmount')::float8, 0),
		       jsonb_array_length(payload->'members'),
		       stage,
		       submitted_at
		FROM proposals
		WHERE stage = $1
		ORDER BY submitted_at, id
	`, string(stage))
	if err != nil {
		return nil, fmt.Errorf("list proposals by stage: %w", err)
	}
	defer rows.Close()

	out := make([]models.ProposalSummary, 0)
	for rows.Next() {
		var (
			item     models.ProposalSummary
			rowStage string
		)
		if err := rows.Scan(
			&item.ID,
			&item.GroupID,
			&item.GroupName,
			&item.LeaderName,
			&item.TotalAmount,
			&item.MemberCount,
			&rowStage,
			&item.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan proposal summary: %w", err)
		}
		item.Stage = models.Stage(rowStage)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal summaries: %w", err)
	}
	return out, nil
}

// RecordDecision compare-and-sets the stage from d.Stage to newStage and
// inserts d in the same transaction. Zero updated rows means the stage moved
// (ErrStageConflict) or the proposal is missing (ErrNotFound).
func (s *PostgresStore) RecordDecision(ctx context.Context, d models.Decision, newStage models.Stage) (*models.Decision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin decision tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE proposals
		SET stage = $1, updated_at = $2
		WHERE id = $3 AND stage = $4
	`, string(newStage), d.CreatedAt, d.ProposalID, string(d.Stage))
	if err != nil {
		return nil, fmt.Errorf("update proposal stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update proposal stage: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM proposals WHERE id = $1)`, d.ProposalID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check proposal: %w", err)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrStageConflict
	}

	reasons := d.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	var comment sql.NullString
	if d.Comment != nil {
		comment = sql.NullString{String: *d.Comment, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decisions (id, proposal_id, stage, decision, reasons, comment, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.ProposalID, string(d.Stage), string(d.Decision), pq.Array(reasons), comment, d.UserID, d.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decision: %w", err)
	}

	out := d
	out.Reasons = reasons
	return &out, nil
}

// GetDetail reads the proposal and its history from one snapshot. It
// returns nil, nil when id is unknown.
func (s *PostgresStore) GetDetail(ctx context.Context, id string) (*models.ProposalDetail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin detail tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := getProposal(ctx, tx, id)
	if err != nil || p == nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, proposal_id, stage, decision, reasons, comment, user_id, created_at
		FROM decisions
		WHERE proposal_id = $1
		ORDER BY created_at, seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	decisions := make([]models.Decision, 0)
	for rows.Next() {
		var (
			d        models.Decision
			stage    string
			decision string
			reasons  []string
			comment  sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.ProposalID, &stage, &decision, pq.Array(&reasons), &comment, &d.UserID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Stage = models.Stage(stage)
		d.Decision = models.DecisionType(decision)
		d.Reasons = reasons
		if d.Reasons == nil {
			d.Reasons = []string{}
		}
		if comment.Valid {
			c := comment.String
			d.Comment = &c
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit detail tx: %w", err)
	}

	return &models.ProposalDetail{Proposal: *p, Decisions: decisions}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
