package review

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"loan-review-workers/internal/common/errors"
	"loan-review-workers/internal/common/validation"
	"loan-review-workers/internal/models"
)

// Member rule codes checked in Go alongside the schema.
const (
	CodeMemberNameMissing   = "MEMBER_NAME_MISSING"
	CodeMemberAmountMissing = "MEMBER_AMOUNT_MISSING"
)

var (
	stringProp      = validation.Property{Type: "string"}
	amountProp      = validation.Property{Type: "number", Minimum: validation.Float(0)}
	stringArrayProp = validation.Property{Type: "array", Items: &validation.Property{Type: "string"}}
)

// ProposalSchema is the canonical payload shape. Unknown fields are tolerated.
var ProposalSchema = validation.JSONSchema{
	Type: "object",
	Properties: map[string]validation.Property{
		"groupId":     stringProp,
		"groupName":   stringProp,
		"leaderName":  stringProp,
		"leaderPhone": stringProp,
		"members": {
			Type:     "array",
			MinItems: validation.Int(1),
			Items: &validation.Property{
				Type: "object",
				Properties: map[string]validation.Property{
					"id":              stringProp,
					"name":            stringProp,
					"firstName":       stringProp,
					"lastName":        stringProp,
					"loanAmount":      amountProp,
					"requestedAmount": amountProp,
					"phone":           stringProp,
					"idNumber":        stringProp,
					"evidencePhotos":  stringArrayProp,
					"signature":       stringProp,
					"isLeader":        {Type: "boolean"},
				},
			},
		},
		"totalAmount":    amountProp,
		"contractText":   stringProp,
		"evidencePhotos": stringArrayProp,
		"formData":       {Type: "object", Description: "opaque auxiliary data"},
	},
	Required: []string{"groupId", "members"},
}

// DecisionRequestSchema is the shape of a reviewer decision.
var DecisionRequestSchema = validation.JSONSchema{
	Type: "object",
	Properties: map[string]validation.Property{
		"stage":    {Type: "string", Enum: models.StageNames()},
		"decision": {Type: "string", Enum: models.DecisionTypeNames()},
		"reasons":  stringArrayProp,
		"comment":  stringProp,
		"userId":   {Type: "string", MinLength: validation.Int(1)},
	},
	Required: []string{"stage", "decision", "userId"},
}

var (
	proposalValidator = validation.MustCompile(ProposalSchema)
	decisionValidator = validation.MustCompile(DecisionRequestSchema)
)

// ValidateProposal checks a candidate payload against the schema and the
// member completeness rules in one pass.
func ValidateProposal(candidate map[string]interface{}) *validation.ValidationResult {
	result := proposalValidator.Validate(candidate)

	members, _ := candidate["members"].([]interface{})
	for i, raw := range members {
		member, ok := raw.(map[string]interface{})
		if !ok {
			continue // reported by the schema
		}
		prefix := fmt.Sprintf("members.%d.", i)

		if !nonEmptyString(member["name"]) &&
			!(nonEmptyString(member["firstName"]) && nonEmptyString(member["lastName"])) {
			result.Add(prefix+"name", CodeMemberNameMissing,
				"member needs a name, or both firstName and lastName")
		}
		if !isNumber(member["loanAmount"]) && !isNumber(member["requestedAmount"]) {
			result.Add(prefix+"loanAmount", CodeMemberAmountMissing,
				"member needs a loanAmount or requestedAmount")
		}
	}

	result.Sort()
	return result
}

// ValidateDecisionRequest checks a raw decision request.
func ValidateDecisionRequest(raw map[string]interface{}) *validation.ValidationResult {
	result := decisionValidator.Validate(raw)
	if s, ok := raw["userId"].(string); ok && s != "" && strings.TrimSpace(s) == "" {
		result.Add("userId", validation.CodeMinLengthViolation, "userId must not be blank")
	}
	return result
}

// Prepare runs the submission pipeline: resolve the envelope, validate the
// candidate, decode it and derive the normalized payload.
func Prepare(raw map[string]interface{}) (models.NormalizedProposal, Envelope, error) {
	candidate, env := ResolveEnvelope(raw)

	if res := ValidateProposal(candidate); !res.Valid {
		return models.NormalizedProposal{}, env, errors.NewMalformedInputError(res.Errors)
	}

	var in models.ProposalInput
	if err := decode(candidate, &in); err != nil {
		return models.NormalizedProposal{}, env, errors.NewInternalFailureError(fmt.Errorf("decode validated proposal: %w", err))
	}
	return NormalizeProposal(in), env, nil
}

// ParseDecisionRequest validates and decodes a raw decision request.
func ParseDecisionRequest(raw map[string]interface{}) (models.DecisionRequest, error) {
	if res := ValidateDecisionRequest(raw); !res.Valid {
		return models.DecisionRequest{}, errors.NewMalformedInputError(res.Errors)
	}
	var req models.DecisionRequest
	if err := decode(raw, &req); err != nil {
		return models.DecisionRequest{}, errors.NewInternalFailureError(fmt.Errorf("decode validated decision: %w", err))
	}
	return req, nil
}

func decode(input map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(input)
}

func nonEmptyString(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return true
	default:
		return false
	}
}
