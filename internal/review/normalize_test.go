package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-review-workers/internal/models"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool        { return &b }

func TestNormalizeMember(t *testing.T) {
	tests := []struct {
		name       string
		input      models.MemberInput
		index      int
		wantID     string
		wantName   string
		wantAmount float64
	}{
		{
			name:       "explicit id, name and loan amount",
			input:      models.MemberInput{ID: strPtr("m-9"), Name: strPtr("Ana"), LoanAmount: floatPtr(100)},
			index:      0,
			wantID:     "m-9",
			wantName:   "Ana",
			wantAmount: 100,
		},
		{
			name:       "positional id and first/last name",
			input:      models.MemberInput{FirstName: strPtr("Bo"), LastName: strPtr("Lee"), RequestedAmount: floatPtr(50)},
			index:      2,
			wantID:     "M3",
			wantName:   "Bo Lee",
			wantAmount: 50,
		},
		{
			name:       "blank name falls back to first/last",
			input:      models.MemberInput{Name: strPtr("   "), FirstName: strPtr("Cy"), LastName: strPtr("Ng"), LoanAmount: floatPtr(5)},
			index:      0,
			wantID:     "M1",
			wantName:   "Cy Ng",
			wantAmount: 5,
		},
		{
			name:       "loan amount wins over requested amount",
			input:      models.MemberInput{Name: strPtr("Di"), LoanAmount: floatPtr(10), RequestedAmount: floatPtr(99)},
			index:      0,
			wantID:     "M1",
			wantName:   "Di",
			wantAmount: 10,
		},
		{
			name:       "no amount defaults to zero",
			input:      models.MemberInput{Name: strPtr("Ed")},
			index:      0,
			wantID:     "M1",
			wantName:   "Ed",
			wantAmount: 0,
		},
		{
			name:       "only last name is trimmed",
			input:      models.MemberInput{LastName: strPtr("Solo"), LoanAmount: floatPtr(1)},
			index:      4,
			wantID:     "M5",
			wantName:   "Solo",
			wantAmount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeMember(tt.input, tt.index)
			assert.Equal(t, tt.wantID, got.ID)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantAmount, got.LoanAmount)
		})
	}
}

func TestNormalizeMember_PassesThroughOtherFields(t *testing.T) {
	in := models.MemberInput{
		Name:            strPtr("Ana"),
		RequestedAmount: floatPtr(75),
		Phone:           strPtr("+255700000001"),
		IDNumber:        strPtr("ID-1"),
		EvidencePhotos:  []string{"a.jpg"},
		Signature:       strPtr("sig"),
		IsLeader:        boolPtr(true),
	}
	got := NormalizeMember(in, 0)

	assert.Equal(t, 75.0, got.LoanAmount)
	require.NotNil(t, got.RequestedAmount)
	assert.Equal(t, 75.0, *got.RequestedAmount)
	assert.Equal(t, in.Phone, got.Phone)
	assert.Equal(t, in.IDNumber, got.IDNumber)
	assert.Equal(t, []string{"a.jpg"}, got.EvidencePhotos)
	assert.Equal(t, in.Signature, got.Signature)
	assert.Equal(t, in.IsLeader, got.IsLeader)
}

func TestNormalizeProposal_LeaderPrecedence(t *testing.T) {
	members := []models.MemberInput{
		{Name: strPtr("First"), LoanAmount: floatPtr(1)},
		{Name: strPtr("Flagged"), LoanAmount: floatPtr(1), IsLeader: boolPtr(true)},
	}

	tests := []struct {
		name  string
		input models.ProposalInput
		want  string
	}{
		{"explicit leader", models.ProposalInput{GroupID: "G", LeaderName: strPtr("Boss"), Members: members}, "Boss"},
		{"flagged member", models.ProposalInput{GroupID: "G", Members: members}, "Flagged"},
		{"first member", models.ProposalInput{GroupID: "G", Members: members[:1]}, "First"},
		{"blank explicit leader ignored", models.ProposalInput{GroupID: "G", LeaderName: strPtr(" "), Members: members[:1]}, "First"},
		{"no members", models.ProposalInput{GroupID: "G"}, UnknownLeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeProposal(tt.input).LeaderName)
		})
	}
}

func TestNormalizeProposal_DerivedFields(t *testing.T) {
	in := models.ProposalInput{
		GroupID:     "G7",
		LeaderPhone: strPtr("+255700000000"),
		Members: []models.MemberInput{
			{Name: strPtr("A"), LoanAmount: floatPtr(0.1)},
			{Name: strPtr("B"), LoanAmount: floatPtr(0.2)},
		},
		FormData: map[string]interface{}{"village": "Moshi"},
	}
	got := NormalizeProposal(in)

	assert.Equal(t, "Group G7", got.GroupName)
	assert.Equal(t, 0.3, got.TotalAmount)
	assert.Equal(t, in.LeaderPhone, got.LeaderPhone)
	assert.Equal(t, "Moshi", got.FormData["village"])
	require.Len(t, got.Members, 2)
	assert.Equal(t, "M1", got.Members[0].ID)
	assert.Equal(t, "M2", got.Members[1].ID)
}

func TestNormalizeProposal_ExplicitTotalWins(t *testing.T) {
	in := models.ProposalInput{
		GroupID:     "G1",
		GroupName:   strPtr("Wanawake"),
		TotalAmount: floatPtr(1000),
		Members:     []models.MemberInput{{Name: strPtr("A"), LoanAmount: floatPtr(10)}},
	}
	got := NormalizeProposal(in)
	assert.Equal(t, "Wanawake", got.GroupName)
	assert.Equal(t, 1000.0, got.TotalAmount)
}

func TestNormalizeProposal_Idempotent(t *testing.T) {
	inputs := []models.ProposalInput{
		{
			GroupID: "G1",
			Members: []models.MemberInput{{Name: strPtr("Ana"), LoanAmount: floatPtr(100)}},
		},
		{
			GroupID: "G2",
			Members: []models.MemberInput{
				{FirstName: strPtr("Bo"), LastName: strPtr("Lee"), RequestedAmount: floatPtr(50)},
				{Name: strPtr("Cy"), LoanAmount: floatPtr(25.5), IsLeader: boolPtr(true)},
			},
		},
		{
			GroupID:     "G3",
			LeaderName:  strPtr("Explicit"),
			TotalAmount: floatPtr(7),
			Members:     []models.MemberInput{{Name: strPtr("Di"), LoanAmount: floatPtr(3)}},
		},
	}

	for _, in := range inputs {
		t.Run(in.GroupID, func(t *testing.T) {
			first := NormalizeProposal(in)
			second := NormalizeProposal(first.AsInput())
			assert.Equal(t, first.TotalAmount, second.TotalAmount)
			assert.Equal(t, first.LeaderName, second.LeaderName)
			assert.Equal(t, first, second)
		})
	}
}

func TestResolveEnvelope(t *testing.T) {
	t.Run("wrapped", func(t *testing.T) {
		inner := map[string]interface{}{"groupId": "G2"}
		raw := map[string]interface{}{"proposalId": "ignored", "source": "app", "payload": inner}

		candidate, env := ResolveEnvelope(raw)
		assert.Equal(t, inner, candidate)
		assert.True(t, env.Wrapped)
		assert.Equal(t, "ignored", env.ProposalID)
		assert.NotContains(t, env.Fields, "payload")

		fields := env.LogFields()
		assert.Equal(t, []string{"proposalId", "source"}, fields["envelopeKeys"])
	})

	t.Run("bare", func(t *testing.T) {
		raw := map[string]interface{}{"groupId": "G1", "payload": "not an object"}
		candidate, env := ResolveEnvelope(raw)
		assert.Equal(t, raw, candidate)
		assert.False(t, env.Wrapped)
		assert.Equal(t, map[string]interface{}{"envelope": false}, env.LogFields())
	})
}
