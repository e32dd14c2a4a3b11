package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-review-workers/internal/common/errors"
	"loan-review-workers/internal/common/validation"
	"loan-review-workers/internal/models"
)

type violation struct {
	field string
	code  string
}

func violationsOf(res *validation.ValidationResult) []violation {
	out := make([]violation, 0, len(res.Errors))
	for _, e := range res.Errors {
		out = append(out, violation{e.Field, e.Code})
	}
	return out
}

func TestValidateProposal(t *testing.T) {
	tests := []struct {
		name      string
		candidate map[string]interface{}
		want      []violation
	}{
		{
			name: "minimal valid",
			candidate: map[string]interface{}{
				"groupId": "G1",
				"members": []interface{}{map[string]interface{}{"name": "Ana", "loanAmount": 100}},
			},
		},
		{
			name: "first and last name with requested amount",
			candidate: map[string]interface{}{
				"groupId": "G2",
				"members": []interface{}{map[string]interface{}{"firstName": "Bo", "lastName": "Lee", "requestedAmount": 50.0}},
			},
		},
		{
			name: "unknown fields tolerated",
			candidate: map[string]interface{}{
				"groupId":  "G1",
				"channel":  "ussd",
				"formData": map[string]interface{}{"anything": []interface{}{1, "two"}},
				"members":  []interface{}{map[string]interface{}{"name": "Ana", "loanAmount": 1, "nickname": "A"}},
			},
		},
		{
			name:      "missing members",
			candidate: map[string]interface{}{"groupId": "G1"},
			want:      []violation{{"members", validation.CodeRequiredFieldMissing}},
		},
		{
			name:      "empty members",
			candidate: map[string]interface{}{"groupId": "G1", "members": []interface{}{}},
			want:      []violation{{"members", validation.CodeMinItemsViolation}},
		},
		{
			name:      "everything missing is reported at once",
			candidate: map[string]interface{}{},
			want: []violation{
				{"groupId", validation.CodeRequiredFieldMissing},
				{"members", validation.CodeRequiredFieldMissing},
			},
		},
		{
			name: "member rules accumulate across members",
			candidate: map[string]interface{}{
				"groupId": "G1",
				"members": []interface{}{
					map[string]interface{}{"firstName": "Only"},
					map[string]interface{}{"name": "Ok", "loanAmount": 5},
				},
			},
			want: []violation{
				{"members.0.loanAmount", CodeMemberAmountMissing},
				{"members.0.name", CodeMemberNameMissing},
			},
		},
		{
			name: "wrong types and negative amount",
			candidate: map[string]interface{}{
				"groupId":     7,
				"totalAmount": -1,
				"members":     []interface{}{map[string]interface{}{"name": "Ana", "loanAmount": "100"}},
			},
			want: []violation{
				{"groupId", validation.CodeInvalidType},
				{"members.0.loanAmount", validation.CodeInvalidType},
				{"members.0.loanAmount", CodeMemberAmountMissing},
				{"totalAmount", validation.CodeMinimumViolation},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateProposal(tt.candidate)
			if len(tt.want) == 0 {
				assert.True(t, res.Valid, "unexpected violations: %v", res.Errors)
				assert.Empty(t, res.Errors)
				return
			}
			assert.False(t, res.Valid)
			assert.Equal(t, tt.want, violationsOf(res))
		})
	}
}

func TestValidateDecisionRequest(t *testing.T) {
	valid := map[string]interface{}{
		"stage":    "DOC_REVIEW",
		"decision": "APPROVE",
		"userId":   "reviewer-1",
		"reasons":  []interface{}{"docs complete"},
	}
	assert.True(t, ValidateDecisionRequest(valid).Valid)

	tests := []struct {
		name string
		raw  map[string]interface{}
		want []violation
	}{
		{
			name: "unknown enums",
			raw:  map[string]interface{}{"stage": "LIMBO", "decision": "MAYBE", "userId": "u"},
			want: []violation{
				{"decision", validation.CodeInvalidEnumValue},
				{"stage", validation.CodeInvalidEnumValue},
			},
		},
		{
			name: "missing user",
			raw:  map[string]interface{}{"stage": "DOC_REVIEW", "decision": "REJECT"},
			want: []violation{{"userId", validation.CodeRequiredFieldMissing}},
		},
		{
			name: "blank user",
			raw:  map[string]interface{}{"stage": "DOC_REVIEW", "decision": "REJECT", "userId": "  "},
			want: []violation{{"userId", validation.CodeMinLengthViolation}},
		},
		{
			name: "reasons must be strings",
			raw:  map[string]interface{}{"stage": "DOC_REVIEW", "decision": "REJECT", "userId": "u", "reasons": []interface{}{1}},
			want: []violation{{"reasons.0", validation.CodeInvalidType}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateDecisionRequest(tt.raw)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.want, violationsOf(res))
		})
	}
}

func TestPrepare(t *testing.T) {
	t.Run("envelope", func(t *testing.T) {
		raw := map[string]interface{}{
			"proposalId": "ignored",
			"payload": map[string]interface{}{
				"groupId": "G2",
				"members": []interface{}{map[string]interface{}{"firstName": "Bo", "lastName": "Lee", "requestedAmount": 50}},
			},
		}
		payload, env, err := Prepare(raw)
		require.NoError(t, err)
		assert.True(t, env.Wrapped)
		require.Len(t, payload.Members, 1)
		assert.Equal(t, "Bo Lee", payload.Members[0].Name)
		assert.Equal(t, 50.0, payload.Members[0].LoanAmount)
		assert.Equal(t, "Bo Lee", payload.LeaderName)
		assert.Equal(t, 50.0, payload.TotalAmount)
		assert.Equal(t, "Group G2", payload.GroupName)
	})

	t.Run("malformed", func(t *testing.T) {
		_, _, err := Prepare(map[string]interface{}{"groupId": "G1"})
		require.Error(t, err)
		stdErr, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.ErrCodeMalformedInput, stdErr.Code)
		violations, ok := stdErr.Metadata["violations"].([]validation.ValidationError)
		require.True(t, ok)
		require.Len(t, violations, 1)
		assert.Equal(t, "members", violations[0].Field)
	})
}

func TestParseDecisionRequest(t *testing.T) {
	req, err := ParseDecisionRequest(map[string]interface{}{
		"stage":    "RISK_REVIEW",
		"decision": "REQUEST_CHANGES",
		"reasons":  []interface{}{"missing photo", "unsigned"},
		"comment":  "please resubmit",
		"userId":   "u-2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageRiskReview, req.Stage)
	assert.Equal(t, models.DecisionRequestChanges, req.Decision)
	assert.Equal(t, []string{"missing photo", "unsigned"}, req.Reasons)
	require.NotNil(t, req.Comment)
	assert.Equal(t, "please resubmit", *req.Comment)
	assert.Equal(t, "u-2", req.UserID)

	_, err = ParseDecisionRequest(map[string]interface{}{"stage": "DOC_REVIEW"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeMalformedInput))
}
