package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() JSONSchema {
	return JSONSchema{
		Type: "object",
		Properties: map[string]Property{
			"groupId": {Type: "string"},
			"status":  {Type: "string", Enum: []string{"OPEN", "CLOSED"}},
			"amount":  {Type: "number", Minimum: Float(0)},
			"code":    {Type: "string", Pattern: strPtr(`^[A-Z]{3}$`), MinLength: Int(3)},
			"items": {
				Type:     "array",
				MinItems: Int(1),
				Items: &Property{
					Type: "object",
					Properties: map[string]Property{
						"label": {Type: "string"},
						"qty":   {Type: "number", Minimum: Float(1)},
					},
					Required: []string{"label"},
				},
			},
		},
		Required: []string{"groupId", "items"},
	}
}

func strPtr(s string) *string { return &s }

func codesByField(vr *ValidationResult) map[string]string {
	out := map[string]string{}
	for _, e := range vr.Errors {
		out[e.Field] = e.Code
	}
	return out
}

func TestValidator_Valid(t *testing.T) {
	v, err := Compile(testSchema())
	require.NoError(t, err)

	res := v.Validate(map[string]interface{}{
		"groupId": "G1",
		"amount":  12.5,
		"items":   []interface{}{map[string]interface{}{"label": "a", "qty": 2}},
		"extra":   "allowed",
	})
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidator_AccumulatesAllViolations(t *testing.T) {
	v := MustCompile(testSchema())

	res := v.Validate(map[string]interface{}{
		"groupId": 42,
		"status":  "PENDING",
		"amount":  -1,
		"code":    "ab",
		"items": []interface{}{
			map[string]interface{}{"qty": 0},
			"not-an-object",
		},
	})

	require.False(t, res.Valid)
	got := codesByField(res)
	assert.Equal(t, CodeInvalidType, got["groupId"])
	assert.Equal(t, CodeInvalidEnumValue, got["status"])
	assert.Equal(t, CodeMinimumViolation, got["amount"])
	assert.Equal(t, CodeRequiredFieldMissing, got["items.0.label"])
	assert.Equal(t, CodeMinimumViolation, got["items.0.qty"])
	assert.Equal(t, CodeInvalidType, got["items.1"])
	assert.True(t, res.HasErrors("code"))

	// sorted by field then code
	for i := 1; i < len(res.Errors); i++ {
		prev, cur := res.Errors[i-1], res.Errors[i]
		assert.True(t, prev.Field < cur.Field || (prev.Field == cur.Field && prev.Code <= cur.Code))
	}
}

func TestValidator_MissingRequiredAtRoot(t *testing.T) {
	res := ValidateInput(map[string]interface{}{}, testSchema())

	require.False(t, res.Valid)
	assert.Equal(t, map[string]string{
		"groupId": CodeRequiredFieldMissing,
		"items":   CodeRequiredFieldMissing,
	}, codesByField(res))
}

func TestValidator_EmptyArray(t *testing.T) {
	res := ValidateInput(map[string]interface{}{"groupId": "G", "items": []interface{}{}}, testSchema())

	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "items", res.Errors[0].Field)
	assert.Equal(t, CodeMinItemsViolation, res.Errors[0].Code)
}

func TestValidationResult_AddAndMerge(t *testing.T) {
	vr := &ValidationResult{Valid: true}
	vr.Add("b", "X", "first")
	vr.Add("b", "X", "duplicate ignored")
	vr.Add("a", "Y", "second")

	other := &ValidationResult{Valid: true}
	other.Add("a", "Y", "dup from other")
	other.Add("a", "Z", "new")
	vr.Merge(other)
	vr.Merge(nil)

	assert.False(t, vr.Valid)
	require.Len(t, vr.Errors, 3)
	assert.Equal(t, []string{"a: second", "a: new", "b: first"}, vr.GetErrorMessages())
	assert.Len(t, vr.GetErrorsForField("a"), 2)
}

func TestFieldErrorsForNestedPrefix(t *testing.T) {
	vr := &ValidationResult{}
	vr.Add("members.0.name", "A", "")
	vr.Add("members.1.loanAmount", "B", "")
	vr.Add("membersCount", "C", "")

	assert.Len(t, vr.GetErrorsForField("members"), 2)
}

func TestGetSchemaFromJSON(t *testing.T) {
	schema, err := GetSchemaFromJSON(`{"type":"object","properties":{"stage":{"type":"string","enum":["DOC_REVIEW"]}},"required":["stage"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage"}, schema.Required)

	res := ValidateInput(map[string]interface{}{"stage": "APPROVED"}, schema)
	assert.Equal(t, CodeInvalidEnumValue, codesByField(res)["stage"])
}

func TestValidateTaskType(t *testing.T) {
	assert.NoError(t, ValidateTaskType("record-decision"))
	assert.NoError(t, ValidateTaskType("submit"))
	assert.Error(t, ValidateTaskType("Record_Decision"))
	assert.Error(t, ValidateTaskType("record-"))
}

func TestValidatePhoneAndEmail(t *testing.T) {
	assert.True(t, ValidatePhone("+1 (555) 010-0000"))
	assert.False(t, ValidatePhone("abc"))
	assert.True(t, ValidateEmail("reviewer@example.com"))
	assert.False(t, ValidateEmail("reviewer@"))
}
