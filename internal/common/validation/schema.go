package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Violation codes. Schema keywords map onto these; semantic rules add their own.
const (
	CodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	CodeInvalidType          = "INVALID_TYPE"
	CodeMinItemsViolation    = "MIN_ITEMS_VIOLATION"
	CodeMinimumViolation     = "MINIMUM_VIOLATION"
	CodeMaximumViolation     = "MAXIMUM_VIOLATION"
	CodeMinLengthViolation   = "MIN_LENGTH_VIOLATION"
	CodeMaxLengthViolation   = "MAX_LENGTH_VIOLATION"
	CodePatternMismatch      = "PATTERN_MISMATCH"
	CodeInvalidEnumValue     = "INVALID_ENUM_VALUE"
	CodeExtraField           = "EXTRA_FIELD"
)

// RootField names the document itself in violation paths.
const RootField = "(root)"

type JSONSchema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties,omitempty"`
	PatternProperties    map[string]Property `json:"patternProperties,omitempty"`
}

type Property struct {
	Type        string              `json:"type,omitempty"`
	Description string              `json:"description,omitempty"`
	Default     interface{}         `json:"default,omitempty"`
	Minimum     *float64            `json:"minimum,omitempty"`
	Maximum     *float64            `json:"maximum,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Pattern     *string             `json:"pattern,omitempty"`
	MinLength   *int                `json:"minLength,omitempty"`
	MaxLength   *int                `json:"maxLength,omitempty"`
	MinItems    *int                `json:"minItems,omitempty"`
	Items       *Property           `json:"items,omitempty"`      // For array validation
	Properties  map[string]Property `json:"properties,omitempty"` // For nested objects
	Required    []string            `json:"required,omitempty"`   // For nested objects
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator evaluates documents against a compiled JSONSchema.
type Validator struct {
	schema *gojsonschema.Schema
}

// Compile serializes the schema and hands it to gojsonschema.
func Compile(schema JSONSchema) (*Validator, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// MustCompile is Compile for package-level schemas.
func MustCompile(schema JSONSchema) *Validator {
	v, err := Compile(schema)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate collects every violation in input. It never stops at the first one.
func (v *Validator) Validate(input interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	res, err := v.schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		result.Add(RootField, CodeInvalidType, fmt.Sprintf("document could not be evaluated: %v", err))
		return result
	}

	for _, re := range res.Errors() {
		result.Add(fieldPath(re), codeFor(re.Type()), re.Description())
	}
	result.Sort()
	return result
}

// ValidateInput validates a decoded JSON object against schema in one call.
func ValidateInput(input map[string]interface{}, schema JSONSchema) *ValidationResult {
	v, err := Compile(schema)
	if err != nil {
		result := &ValidationResult{Valid: true}
		result.Add(RootField, CodeInvalidType, err.Error())
		return result
	}
	return v.Validate(input)
}

// fieldPath renders a dotted path. A required error is reported on its parent
// object by gojsonschema, so the missing property is appended here.
func fieldPath(re gojsonschema.ResultError) string {
	base := re.Field()
	if re.Type() != "required" {
		return base
	}
	prop, _ := re.Details()["property"].(string)
	if prop == "" {
		return base
	}
	if base == RootField || base == "" {
		return prop
	}
	if base == prop || strings.HasSuffix(base, "."+prop) {
		return base
	}
	return base + "." + prop
}

func codeFor(schemaErrType string) string {
	switch schemaErrType {
	case "required":
		return CodeRequiredFieldMissing
	case "invalid_type":
		return CodeInvalidType
	case "array_min_items":
		return CodeMinItemsViolation
	case "number_gte", "number_gt":
		return CodeMinimumViolation
	case "number_lte", "number_lt":
		return CodeMaximumViolation
	case "string_gte":
		return CodeMinLengthViolation
	case "string_lte":
		return CodeMaxLengthViolation
	case "pattern":
		return CodePatternMismatch
	case "enum":
		return CodeInvalidEnumValue
	case "additional_property_not_allowed":
		return CodeExtraField
	default:
		return strings.ToUpper(schemaErrType)
	}
}

// Add records a violation; a repeated (field, code) pair is kept once.
func (vr *ValidationResult) Add(field, code, message string) {
	for _, existing := range vr.Errors {
		if existing.Field == field && existing.Code == code {
			return
		}
	}
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Message: message, Code: code})
	vr.Valid = false
}

// Merge folds other's violations into vr.
func (vr *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for _, e := range other.Errors {
		vr.Add(e.Field, e.Code, e.Message)
	}
	vr.Sort()
}

// Sort orders violations by field, then code.
func (vr *ValidationResult) Sort() {
	sort.SliceStable(vr.Errors, func(i, j int) bool {
		if vr.Errors[i].Field != vr.Errors[j].Field {
			return vr.Errors[i].Field < vr.Errors[j].Field
		}
		return vr.Errors[i].Code < vr.Errors[j].Code
	})
}

func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}

func GetSchemaFromJSON(schemaJSON string) (JSONSchema, error) {
	var schema JSONSchema
	err := json.Unmarshal([]byte(schemaJSON), &schema)
	return schema, err
}

var taskTypePattern = regexp.MustCompile(`^[a-z]+(-[a-z]+)*$`)

// ValidateTaskType checks the kebab-case naming used for Zeebe job types.
func ValidateTaskType(taskType string) error {
	if !taskTypePattern.MatchString(taskType) {
		return fmt.Errorf("task type must be kebab-case (e.g. submit-proposal), got %q", taskType)
	}
	return nil
}

var phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]{7,}$`)

func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Helpers for building schemas in Go.

func Float(v float64) *float64 { return &v }
func Int(v int) *int           { return &v }
