// Package mcp implements the Model Context Protocol (MCP) server for notesearch.
//
// The server exposes four tools to AI assistants:
//   - search_notes: Hybrid, full-text or semantic search under a strict tag filter
//   - list_notes: List notes accepted by a strict tag filter
//   - get_status: Report counts and index health
//   - ingest_notes: Load YAML note files into the store
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio. stdout carries protocol messages only;
// every log line goes to stderr through the zap logger.
//
//	notesearch serve
//
// # Tool: search_notes
//
//	Request:
//	{
//	  "name": "search_notes",
//	  "arguments": {
//	    "query": "release planning",
//	    "mode": "hybrid",
//	    "limit": 10,
//	    "filter": {
//	      "required_tags": ["project"],
//	      "excluded_schemes": ["personal"],
//	      "include_untagged": false
//	    }
//	  }
//	}
//
//	Response:
//	{
//	  "query": "release planning",
//	  "mode": "hybrid",
//	  "results": [
//	    {"note_id": "standup", "score": 1, "title": "Standup", "snippet": "...", "tags": ["project/alpha", "meeting"]}
//	  ],
//	  "total": 1,
//	  "lexical_count": 3,
//	  "semantic_count": 3,
//	  "duration_ms": 4
//	}
//
// Modes that need a vector embed the query with the configured embedder
// before the search runs. Optional notations that match nothing are listed
// under "dropped".
//
// # Error Codes
//
// Handlers return *MCPError with one of:
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  ingest path not found
//	-32002  ingestion already in progress
//	-32010  filter_resolution: a required notation did not resolve
//	-32011  backend_unavailable: a retrieval or embedding backend failed
//	-32012  invalid_query: empty query or no embedder for a semantic mode
//	-32013  canceled: the request was canceled or timed out
//
// Search failures carry the stable code, the pipeline stage and, for
// resolution failures, the field and notation in Data.
package mcp
