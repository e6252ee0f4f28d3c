package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func notationList(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items": map[string]interface{}{
			"type": "string",
		},
	}
}

// filterSchema describes types.StrictTagFilterInput
func filterSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"description":          "Strict filter. Notations are concept notations, labels or plain tags; a notation also matches everything below it in the same scheme (project matches project/alpha). Write scheme:notation to pick a concept from one scheme.",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"required_tags":    notationList("Every notation must match. An unknown notation fails the request."),
			"any_tags":         notationList("At least one notation must match. Unknown notations are dropped."),
			"excluded_tags":    notationList("No notation may match. Unknown notations are dropped."),
			"required_schemes": notationList("Notes must carry at least one concept and only concepts from the listed schemes. An unknown scheme fails the request."),
			"excluded_schemes": notationList("Notes must carry no concept from the listed schemes. Unknown schemes are dropped."),
			"min_tag_count": map[string]interface{}{
				"type":        "integer",
				"description": "Minimum number of concepts attached to a note",
				"minimum":     0,
			},
			"include_untagged": map[string]interface{}{
				"type":        "boolean",
				"description": "If false, notes without concepts or tags are excluded",
				"default":     true,
			},
		},
	}
}

// searchNotesTool returns the tool definition for search_notes
func searchNotesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_notes",
		Description: "Search notes with full-text, semantic or hybrid retrieval under a strict tag filter",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (0-100)",
					"default":     10,
					"minimum":     0,
					"maximum":     100,
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (text + semantic fused with RRF), fts_only, or semantic_only",
					"enum":        []string{"hybrid", "fts_only", "semantic_only"},
					"default":     "hybrid",
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Drop results whose normalized score is below this value (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"filter": filterSchema(),
			},
			Required: []string{"query"},
		},
	}
}

// listNotesTool returns the tool definition for list_notes
func listNotesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_notes",
		Description: "List notes matching a strict tag filter in the order they were first ingested",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of notes to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"filter": filterSchema(),
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report note, concept and embedding counts plus index health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// ingestNotesTool returns the tool definition for ingest_notes
func ingestNotesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_notes",
		Description: "Ingest YAML note files (schemes, concepts and notes) from a file or directory",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a .yaml file or a directory of note files",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-ingest every note ignoring content hashes",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}
