package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-review-workers/internal/models"
)

const (
	proposalUUID = "7b0c6d1e-6a51-4c1f-9d7a-2f7f0f6a9e11"
	decisionUUID = "0f1e2d3c-4b5a-4968-8776-a5b4c3d2e1f0"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewPostgresStore(db,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return proposalUUID }),
	)
	return s, mock
}

func TestPostgresStore_Create(t *testing.T) {
	s, mock := newMockStore(t)
	payload := samplePayload("G1")
	encoded, err := json.Marshal(payload)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO proposals (id, group_id, stage, payload, submitted_at, updated_at)")).
		WithArgs(proposalUUID, "G1", "DOC_REVIEW", string(encoded), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	p, err := s.Create(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, proposalUUID, p.ID)
	assert.Equal(t, models.StageDocReview, p.Stage)
	assert.Equal(t, fixedNow, p.SubmittedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO proposals").WillReturnError(errors.New("connection reset"))

	_, err := s.Create(context.Background(), samplePayload("G1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert proposal")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockStore(t)
	encoded, _ := json.Marshal(samplePayload("G1"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, stage, payload, submitted_at, updated_at")).
		WithArgs(proposalUUID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "stage", "payload", "submitted_at", "updated_at"}).
			AddRow(proposalUUID, "RISK_REVIEW", encoded, fixedNow, fixedNow.Add(time.Minute)))

	p, err := s.Get(context.Background(), proposalUUID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.StageRiskReview, p.Stage)
	assert.Equal(t, "Group G1", p.Payload.GroupName)
	assert.Equal(t, "north", p.Payload.FormData["branch"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, stage, payload").WithArgs(proposalUUID).WillReturnError(sql.ErrNoRows)

	p, err := s.Get(context.Background(), proposalUUID)
	require.NoError(t, err)
	assert.Nil(t, p)

	// not a UUID: no query at all
	p, err = s.Get(context.Background(), "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByStage(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "group_id", "group_name", "leader_name", "total", "members", "stage", "submitted_at"}).
		AddRow(proposalUUID, "G1", "Group G1", "Ana", 100.0, 1, "DOC_REVIEW", fixedNow).
		AddRow(decisionUUID, "G2", "Group G2", "Bo Lee", 50.0, 2, "DOC_REVIEW", fixedNow.Add(time.Second))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY submitted_at, id")).WithArgs("DOC_REVIEW").WillReturnRows(rows)

	out, err := s.ListByStage(context.Background(), models.StageDocReview)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "G1", out[0].GroupID)
	assert.Equal(t, 2, out[1].MemberCount)
	assert.Equal(t, "Bo Lee", out[1].LeaderName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func sampleDecision() models.Decision {
	comment := "looks fine"
	return models.Decision{
		ID:         decisionUUID,
		ProposalID: proposalUUID,
		Stage:      models.StageDocReview,
		Decision:   models.DecisionApprove,
		Reasons:    []string{"docs complete", "ids verified"},
		Comment:    &comment,
		UserID:     "reviewer-1",
		CreatedAt:  fixedNow,
	}
}

func TestPostgresStore_RecordDecision(t *testing.T) {
	s, mock := newMockStore(t)
	d := sampleDecision()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE proposals")).
		WithArgs("RISK_REVIEW", fixedNow, proposalUUID, "DOC_REVIEW").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO decisions")).
		WithArgs(decisionUUID, proposalUUID, "DOC_REVIEW", "APPROVE", pq.Array(d.Reasons), "looks fine", "reviewer-1", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	recorded, err := s.RecordDecision(context.Background(), d, models.StageRiskReview)
	require.NoError(t, err)
	assert.Equal(t, d, *recorded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDecisionStageConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE proposals").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM proposals WHERE id = $1)")).
		WithArgs(proposalUUID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.RecordDecision(context.Background(), sampleDecision(), models.StageRiskReview)
	assert.ErrorIs(t, err, ErrStageConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDecisionNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE proposals").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := s.RecordDecision(context.Background(), sampleDecision(), models.StageRiskReview)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDecisionInsertFailsRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	d := sampleDecision()
	d.Comment = nil
	d.Reasons = nil

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE proposals").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO decisions").
		WithArgs(decisionUUID, proposalUUID, "DOC_REVIEW", "APPROVE", pq.Array([]string{}), nil, "reviewer-1", fixedNow).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.RecordDecision(context.Background(), d, models.StageRiskReview)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert decision")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDetail(t *testing.T) {
	s, mock := newMockStore(t)
	encoded, _ := json.Marshal(samplePayload("G1"))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, stage, payload").WithArgs(proposalUUID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "stage", "payload", "submitted_at", "updated_at"}).
			AddRow(proposalUUID, "RISK_REVIEW", encoded, fixedNow, fixedNow))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at, seq")).WithArgs(proposalUUID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "proposal_id", "stage", "decision", "reasons", "comment", "user_id", "created_at"}).
			AddRow(decisionUUID, proposalUUID, "DOC_REVIEW", "APPROVE", []byte(`{"docs complete","ids verified"}`), "looks fine", "reviewer-1", fixedNow))
	mock.ExpectCommit()

	detail, err := s.GetDetail(context.Background(), proposalUUID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, models.StageRiskReview, detail.Stage)
	require.Len(t, detail.Decisions, 1)
	assert.Equal(t, sampleDecision(), detail.Decisions[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDetailMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, stage, payload").WithArgs(proposalUUID).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	detail, err := s.GetDetail(context.Background(), proposalUUID)
	require.NoError(t, err)
	assert.Nil(t, detail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"m/0001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"m/0001_init.down.sql": {Data: []byte("DROP TABLE a;")},
		"m/0002_more.up.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_init.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0002_more.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations(version) VALUES($1)")).
		WithArgs("0002_more.up.sql").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, applyMigrations(context.Background(), db, fsys, "m"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrationsAreListed(t *testing.T) {
	names, err := upMigrations(migrationFiles, "migrations")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_proposals.up.sql", "0002_decisions_append_only.up.sql"}, names)
}
