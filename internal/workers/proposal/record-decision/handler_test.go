package recorddecision

import (
	"context"
	"sync"
	"testing"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-review-workers/internal/common/errors"
	"loan-review-workers/internal/common/logger"
	"loan-review-workers/internal/models"
	"loan-review-workers/internal/review"
	"loan-review-workers/internal/store"
)

func createMockJob(key int64, variables string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "loan-review",
		ElementId:          "Activity_RecordDecision",
		CustomHeaders:      "{}",
		Retries:            3,
		Variables:          variables,
	}}
}

type fixture struct {
	handler  *Handler
	repo     *store.MemoryStore
	proposal string
}

func setup(t *testing.T) fixture {
	t.Helper()
	repo := store.NewMemoryStore()
	svc, err := review.NewService(review.ServiceOptions{Repository: repo, Logger: logger.NewTestLogger(t)})
	require.NoError(t, err)

	created, err := svc.Submit(context.Background(), map[string]interface{}{
		"groupId": "G-9",
		"members": []interface{}{
			map[string]interface{}{"name": "Neema", "loanAmount": 120.0},
		},
	})
	require.NoError(t, err)

	h, err := NewHandler(HandlerOptions{Service: svc, Logger: logger.NewTestLogger(t)})
	require.NoError(t, err)
	return fixture{handler: h, repo: repo, proposal: created.ProposalID}
}

func decision(proposalID string, stage models.Stage, d models.DecisionType) *Input {
	return &Input{
		ProposalID: proposalID,
		Request: map[string]interface{}{
			"stage":    string(stage),
			"decision": string(d),
			"userId":   "officer-1",
		},
	}
}

func TestExecute_ApprovalPath(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	out, err := f.handler.Execute(ctx, decision(f.proposal, models.StageDocReview, models.DecisionApprove))
	require.NoError(t, err)
	assert.Equal(t, models.StageDocReview, out.PreviousStage)
	assert.Equal(t, models.StageRiskReview, out.NewStage)
	assert.NotEmpty(t, out.DecisionID)

	out, err = f.handler.Execute(ctx, decision(f.proposal, models.StageRiskReview, models.DecisionApprove))
	require.NoError(t, err)
	assert.Equal(t, models.StageApproved, out.NewStage)

	detail, err := f.repo.GetDetail(ctx, f.proposal)
	require.NoError(t, err)
	assert.Equal(t, models.StageApproved, detail.Stage)
	assert.Len(t, detail.Decisions, 2)
}

func TestExecute_StaleStageIsRejected(t *testing.T) {
	f := setup(t)

	_, err := f.handler.Execute(context.Background(), decision(f.proposal, models.StageRiskReview, models.DecisionApprove))
	stdErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeInvalidTransition, stdErr.Code)
	assert.Equal(t, "DOC_REVIEW", stdErr.Metadata["currentStage"])
	assert.Equal(t, "STAGE_MISMATCH", stdErr.Metadata["rule"])

	detail, err := f.repo.GetDetail(context.Background(), f.proposal)
	require.NoError(t, err)
	assert.Empty(t, detail.Decisions)
}

func TestExecute_UnknownProposal(t *testing.T) {
	f := setup(t)
	_, err := f.handler.Execute(context.Background(), decision("missing", models.StageDocReview, models.DecisionReject))
	assert.True(t, errors.HasCode(err, errors.ErrCodeProposalNotFound))
}

func TestExecute_ConcurrentDecisionsOneWins(t *testing.T) {
	f := setup(t)

	const racers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.handler.Execute(context.Background(), decision(f.proposal, models.StageDocReview, models.DecisionReject))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.HasCode(err, errors.ErrCodeInvalidTransition) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, racers-1, rejected)
}

func TestParseInput_KeepsOnlyDecisionFields(t *testing.T) {
	f := setup(t)

	job := createMockJob(7, `{
		"proposalId": "p-1",
		"stage": "DOC_REVIEW",
		"decision": "REQUEST_CHANGES",
		"reasons": ["missing signature"],
		"userId": "officer-2",
		"groupId": "G-9",
		"loopCounter": 2
	}`)
	input, err := f.handler.parseInput(job)
	require.NoError(t, err)
	assert.Equal(t, "p-1", input.ProposalID)
	assert.Equal(t, map[string]interface{}{
		"stage":    "DOC_REVIEW",
		"decision": "REQUEST_CHANGES",
		"reasons":  []interface{}{"missing signature"},
		"userId":   "officer-2",
	}, input.Request)
}

func TestExecute_MissingProposalID(t *testing.T) {
	f := setup(t)

	input, err := f.handler.parseInput(createMockJob(8, `{"stage":"DOC_REVIEW","decision":"APPROVE","userId":"u"}`))
	require.NoError(t, err)

	_, err = f.handler.Execute(context.Background(), input)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMalformedInput))
}
