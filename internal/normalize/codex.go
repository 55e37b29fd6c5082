package normalize

import (
	"encoding/json"
	"fmt"
)

// ValidateCodexShape checks that a Codex Responses body carries the
// fields the public API contract requires, without otherwise
// transforming the body; Codex already speaks the target schema.
func ValidateCodexShape(body []byte) error {
	var shape struct {
		ID      string          `json:"id"`
		Object  string          `json:"object"`
		Created json.Number     `json:"created"`
		Model   string          `json:"model"`
		Output  json.RawMessage `json:"output"`
		Resp    json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return fmt.Errorf("normalize: unparsable codex body: %w", err)
	}
	if shape.ID == "" || shape.Object == "" || shape.Model == "" {
		return fmt.Errorf("normalize: codex body missing required fields")
	}
	if len(shape.Output) == 0 && len(shape.Resp) == 0 {
		return fmt.Errorf("normalize: codex body missing output/response")
	}
	return nil
}

// ValidateCodexSSELine checks one Codex SSE data frame has a parseable
// JSON payload; Codex's SSE events are forwarded unchanged once valid.
func ValidateCodexSSELine(data string) error {
	if data == "[DONE]" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return fmt.Errorf("normalize: unparsable codex sse frame: %w", err)
	}
	return nil
}
