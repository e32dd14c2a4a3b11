package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-review-workers/pkg/registry"
)

func TestExportedName(t *testing.T) {
	assert.Equal(t, "ProposalID", exportedName("proposalId"))
	assert.Equal(t, "NotificationStatus", exportedName("notificationStatus"))
	assert.Equal(t, "LeaderPhone", exportedName("leader-phone"))
	assert.Equal(t, "Stage", exportedName("stage"))
}

func TestGenerateStructFields_FlatAndSchema(t *testing.T) {
	flat := map[string]interface{}{"stage": "string", "limit": "integer"}
	assert.Equal(t, "\tLimit int `json:\"limit\"`\n\tStage string `json:\"stage\"`", generateStructFields(flat))

	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"total": map[string]interface{}{"type": "number"},
		},
	}
	assert.Equal(t, "\tTotal float64 `json:\"total\"`", generateStructFields(schema))
}

func TestTimeoutMillis(t *testing.T) {
	assert.Equal(t, 15000, timeoutMillis("15s"))
	assert.Equal(t, 30000, timeoutMillis(""))
	assert.Equal(t, 30000, timeoutMillis("soon"))
}

func TestRender_WritesScaffoldOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proposal", "archive-proposal")
	data := workerData(registry.Activity{
		ID:           "proposal-archive",
		DisplayName:  "Archive Proposal",
		Description:  "moves a decided proposal to cold storage.",
		Category:     "proposal",
		TaskType:     "archive-proposal",
		InputSchema:  map[string]interface{}{"proposalId": "string"},
		OutputSchema: map[string]interface{}{"archived": "boolean"},
		ErrorCodes:   []string{"PROPOSAL_NOT_FOUND"},
		Timeout:      "20s",
	})

	written, err := render(dir, data)
	require.NoError(t, err)
	assert.Len(t, written, 3)

	handler, err := os.ReadFile(filepath.Join(dir, "handler.go"))
	require.NoError(t, err)
	assert.Contains(t, string(handler), "package archiveproposal")
	assert.Contains(t, string(handler), `const TaskType = "archive-proposal"`)
	assert.Contains(t, string(handler), "Error codes: PROPOSAL_NOT_FOUND.")

	models, err := os.ReadFile(filepath.Join(dir, "models.go"))
	require.NoError(t, err)
	assert.Contains(t, string(models), "ProposalID string `json:\"proposalId\"`")
	assert.Contains(t, string(models), "Archived bool `json:\"archived\"`")

	cfg, err := os.ReadFile(filepath.Join(dir, "config.go"))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "20000 * time.Millisecond")

	_, err = render(dir, data)
	assert.Error(t, err)
}
