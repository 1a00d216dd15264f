package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate holds the struct validation rules applied to every decoded LLM
// response before it escapes the client.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Schema describes the structured response expected from an LLM call. Name
// identifies the schema in errors; Instructions are appended to the prompt
// so the model knows the exact JSON shape required.
type Schema struct {
	Name         string
	Instructions string
}

// SchemaValidationError reports an LLM response that did not conform to the
// expected structured shape. It is never coerced into a partial result.
type SchemaValidationError struct {
	Schema string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("response does not match schema %q: %v", e.Schema, e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// decodeResponse strips markdown fences, unmarshals the model output into
// out, and validates it. Any failure is a SchemaValidationError.
func decodeResponse(raw string, schema Schema, out any) error {
	content := stripMarkdownFences(raw)

	if err := json.Unmarshal([]byte(content), out); err != nil {
		return &SchemaValidationError{Schema: schema.Name, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	if err := validate.Struct(out); err != nil {
		return &SchemaValidationError{Schema: schema.Name, Err: err}
	}
	return nil
}

// stripMarkdownFences removes the ```json fences models sometimes wrap
// around JSON output.
func stripMarkdownFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
