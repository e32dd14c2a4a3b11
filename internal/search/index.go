// Package search keeps an Elasticsearch index of proposal summaries for
// free-text lookups. The repository stays the source of truth; the index may
// lag behind it.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"loan-review-workers/internal/common/config"
	"loan-review-workers/internal/models"
)

var ErrEmptyQuery = errors.New("query text or stage is required")

// indexMapping keeps ids and stage exact and the names analyzed.
const indexMapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "keyword"},
      "groupId":     {"type": "keyword"},
      "groupName":   {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "leaderName":  {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "totalAmount": {"type": "double"},
      "memberCount": {"type": "integer"},
      "stage":       {"type": "keyword"},
      "submittedAt": {"type": "date"}
    }
  }
}`

type Index struct {
	client       *elasticsearch.Client
	name         string
	defaultLimit int
	maxLimit     int
}

func NewIndex(client *elasticsearch.Client, cfg config.SearchConfig) *Index {
	ix := &Index{
		client:       client,
		name:         cfg.Index,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
	}
	if ix.name == "" {
		ix.name = "proposals"
	}
	if ix.defaultLimit <= 0 {
		ix.defaultLimit = 20
	}
	if ix.maxLimit < ix.defaultLimit {
		ix.maxLimit = ix.defaultLimit
	}
	return ix
}

func (ix *Index) Name() string {
	return ix.name
}

// EnsureIndex creates the index with its mapping when it does not exist yet.
func (ix *Index) EnsureIndex(ctx context.Context) error {
	res, err := ix.client.Indices.Exists([]string{ix.name}, ix.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", ix.name, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = ix.client.Indices.Create(ix.name,
		ix.client.Indices.Create.WithContext(ctx),
		ix.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", ix.name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("create index", res)
	}
	return nil
}

// IndexProposal upserts the summary under the proposal id.
func (ix *Index) IndexProposal(ctx context.Context, summary models.ProposalSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", summary.ID, err)
	}

	req := esapi.IndexRequest{
		Index:      ix.name,
		DocumentID: summary.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("index proposal %s: %w", summary.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("index proposal", res)
	}
	return nil
}

type Query struct {
	Text  string
	Stage models.Stage
	Limit int
}

type Result struct {
	Total     int                      `json:"total"`
	Took      int                      `json:"took"`
	Proposals []models.ProposalSummary `json:"proposals"`
}

// Search matches Text against group and leader names and filters by Stage.
// Hits come back oldest submission first, like ListByStage.
func (ix *Index) Search(ctx context.Context, q Query) (*Result, error) {
	if strings.TrimSpace(q.Text) == "" && q.Stage == "" {
		return nil, ErrEmptyQuery
	}

	size := ix.limit(q.Limit)
	body, err := json.Marshal(BuildQuery(q))
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{ix.name},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", ix.name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("search", res)
	}

	var parsed struct {
		Took int `json:"took"`
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.ProposalSummary `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := &Result{
		Total:     parsed.Hits.Total.Value,
		Took:      parsed.Took,
		Proposals: make([]models.ProposalSummary, 0, len(parsed.Hits.Hits)),
	}
	for _, h := range parsed.Hits.Hits {
		out.Proposals = append(out.Proposals, h.Source)
	}
	return out, nil
}

func (ix *Index) limit(requested int) int {
	switch {
	case requested <= 0:
		return ix.defaultLimit
	case requested > ix.maxLimit:
		return ix.maxLimit
	default:
		return requested
	}
}

// BuildQuery renders q as an Elasticsearch bool query.
func BuildQuery(q Query) map[string]interface{} {
	boolQuery := map[string]interface{}{}

	if text := strings.TrimSpace(q.Text); text != "" {
		boolQuery["must"] = []interface{}{
			map[string]interface{}{
				"multi_match": map[string]interface{}{
					"query":  text,
					"fields": []string{"groupName^3", "leaderName^2", "groupId"},
					"type":   "best_fields",
				},
			},
		}
	}
	if q.Stage != "" {
		boolQuery["filter"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"stage": string(q.Stage)}},
		}
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": []interface{}{
			map[string]interface{}{"submittedAt": map[string]interface{}{"order": "asc"}},
			map[string]interface{}{"id": map[string]interface{}{"order": "asc"}},
		},
	}
}

func responseError(op string, res *esapi.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s: elasticsearch returned %s: %s", op, res.Status(), strings.TrimSpace(string(raw)))
}
