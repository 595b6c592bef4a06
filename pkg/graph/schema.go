package graph

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// graphSchema is the wire-level contract of the graph DSL. It catches shape
// problems (missing ids, bad enum values) before structural analysis so that
// malformed bodies produce a single class of error for the editor.
const graphSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["nodes", "edges"],
	"properties": {
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"enum": ["start", "end", "humanTask", "automatic", "gateway", "timer", "join"]},
					"label": {"type": "string"},
					"strategy": {"enum": ["exclusive", "parallel", "conditional"]},
					"mode": {"enum": ["all", "any"]},
					"assignee": {"type": "string"},
					"formKey": {"type": "string"},
					"handler": {"type": "string"},
					"duration": {"type": "string"}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "from", "to"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"from": {"type": "string", "minLength": 1},
					"to": {"type": "string", "minLength": 1},
					"branchLabel": {"enum": ["true", "false"]}
				}
			}
		}
	}
}`

// checkSchema validates the raw body against the DSL schema. It returns one
// issue per violation, or a single malformed_graph issue when the document is
// not valid JSON at all.
func checkSchema(body json.RawMessage) []Issue {
	if len(body) == 0 {
		return []Issue{{Code: CodeMalformedGraph, Message: "graph body is empty"}}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(graphSchema),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		return []Issue{{Code: CodeMalformedGraph, Message: fmt.Sprintf("graph body is not valid JSON: %v", err)}}
	}

	if result.Valid() {
		return nil
	}

	issues := make([]Issue, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		issues = append(issues, Issue{
			Code:    CodeMalformedGraph,
			Message: fmt.Sprintf("%s: %s", violation.Field(), violation.Description()),
		})
	}

	return issues
}
