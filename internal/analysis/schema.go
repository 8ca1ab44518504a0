package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema returns the JSON schema the model output must satisfy.
func Schema() map[string]any {
	stringList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"overall_score": scoreProp(),
			"scores": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"novelty":             scoreProp(),
					"technical_merit":     scoreProp(),
					"feasibility":         scoreProp(),
					"financial_viability": scoreProp(),
					"impact":              scoreProp(),
				},
				"required": []string{"novelty", "technical_merit", "feasibility", "financial_viability", "impact"},
			},
			"summary":         map[string]any{"type": "string", "minLength": 1},
			"strengths":       stringList,
			"weaknesses":      stringList,
			"recommendations": stringList,
			"novelty_analysis": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"is_novel":      map[string]any{"type": "boolean"},
					"justification": map[string]any{"type": "string"},
				},
				"required": []string{"is_novel", "justification"},
			},
			"financial_analysis": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"is_compliant":  map[string]any{"type": "boolean"},
					"justification": map[string]any{"type": "string"},
				},
				"required": []string{"is_compliant", "justification"},
			},
		},
		"required": []string{
			"overall_score", "scores", "summary", "strengths", "weaknesses",
			"recommendations", "novelty_analysis", "financial_analysis",
		},
	}
}

func scoreProp() map[string]any {
	return map[string]any{"type": "integer", "minimum": 0, "maximum": 100}
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("analysis.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateAgainst(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// stripCodeFence removes a surrounding ``` or ```json fence some models add despite json mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
