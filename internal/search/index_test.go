package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-review-workers/internal/common/config"
	"loan-review-workers/internal/models"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
}

// fakeCluster answers like Elasticsearch, including the product header the
// v8 client checks on every response.
type fakeCluster struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	response string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	req := capturedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &req.Body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	status, response := f.status, f.response
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, response)
}

func (f *fakeCluster) last() capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestIndex(t *testing.T, cluster *fakeCluster) *Index {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewIndex(client, config.SearchConfig{Index: "proposals-test", DefaultLimit: 10, MaxLimit: 50})
}

func TestIndexProposal(t *testing.T) {
	cluster := &fakeCluster{response: `{"_id":"p-1","result":"created"}`}
	ix := newTestIndex(t, cluster)

	summary := models.ProposalSummary{
		ID:          "p-1",
		GroupID:     "G1",
		GroupName:   "Wanawake",
		LeaderName:  "Ana",
		TotalAmount: 100,
		MemberCount: 1,
		Stage:       models.StageDocReview,
		SubmittedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, ix.IndexProposal(context.Background(), summary))

	got := cluster.last()
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/proposals-test/_doc/p-1", got.Path)
	assert.Equal(t, "Wanawake", got.Body["groupName"])
	assert.Equal(t, "DOC_REVIEW", got.Body["stage"])
}

func TestIndexProposal_ErrorStatus(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusBadRequest, response: `{"error":"mapper_parsing_exception"}`}
	ix := newTestIndex(t, cluster)

	err := ix.IndexProposal(context.Background(), models.ProposalSummary{ID: "p-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestSearch(t *testing.T) {
	cluster := &fakeCluster{response: `{
		"took": 3,
		"hits": {
			"total": {"value": 2},
			"hits": [
				{"_source": {"id": "p-1", "groupId": "G1", "groupName": "Wanawake A", "stage": "RISK_REVIEW", "memberCount": 3}},
				{"_source": {"id": "p-2", "groupId": "G2", "groupName": "Wanawake B", "stage": "RISK_REVIEW", "memberCount": 5}}
			]
		}
	}`}
	ix := newTestIndex(t, cluster)

	res, err := ix.Search(context.Background(), Query{Text: "wanawake", Stage: models.StageRiskReview, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 3, res.Took)
	require.Len(t, res.Proposals, 2)
	assert.Equal(t, "p-1", res.Proposals[0].ID)
	assert.Equal(t, 5, res.Proposals[1].MemberCount)

	got := cluster.last()
	assert.Equal(t, "/proposals-test/_search", got.Path)
	assert.Contains(t, got.Query, "size=50")
	query := got.Body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.Contains(t, query, "must")
	assert.Contains(t, query, "filter")
}

func TestSearch_EmptyQuery(t *testing.T) {
	ix := newTestIndex(t, &fakeCluster{})
	_, err := ix.Search(context.Background(), Query{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestBuildQuery_StageOnly(t *testing.T) {
	q := BuildQuery(Query{Stage: models.StageDocReview})
	boolQuery := q["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.NotContains(t, boolQuery, "must")
	assert.Equal(t, []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"stage": "DOC_REVIEW"}},
	}, boolQuery["filter"])
}

func TestLimit(t *testing.T) {
	ix := NewIndex(nil, config.SearchConfig{DefaultLimit: 10, MaxLimit: 50})
	assert.Equal(t, "proposals", ix.Name())
	assert.Equal(t, 10, ix.limit(0))
	assert.Equal(t, 25, ix.limit(25))
	assert.Equal(t, 50, ix.limit(51))
}

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	cluster := &fakeCluster{status: http.StatusNotFound}
	ix := newTestIndex(t, cluster)

	// the fake answers 404 to HEAD, then the create call with the same status
	err := ix.EnsureIndex(context.Background())
	require.Error(t, err)

	cluster.mu.Lock()
	defer cluster.mu.Unlock()
	require.Len(t, cluster.requests, 2)
	assert.Equal(t, http.MethodHead, cluster.requests[0].Method)
	assert.Equal(t, http.MethodPut, cluster.requests[1].Method)
	assert.Contains(t, cluster.requests[1].Body, "mappings")
}
