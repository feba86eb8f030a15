// Package mcp implements the Model Context Protocol (MCP) server for codeknow.
//
// The MCP server exposes three tools to AI coding assistants:
//   - index_codebase: Incrementally index a project and rebuild its dependency graph
//   - get_status: Report store, checkpoint and graph statistics
//   - get_dependencies: List a file's imports and importers
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started via the serve command and reads requests from stdin:
//
//	codeknow serve
//
// Each project root gets its own knowledge store, by default
// <root>/.codeknow/index.db. Stores are opened on first use and kept open
// until the server shuts down. get_status and get_dependencies never create
// a store.
//
// # Tool: index_codebase
//
//	Request:
//	{
//	  "name": "index_codebase",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "force_reindex": false
//	  }
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "checkpoint_status": "loaded",
//	  "files_discovered": 247,
//	  "files_pending": 3,
//	  "files_indexed": 3,
//	  "files_skipped": 244,
//	  "files_failed": 0,
//	  "reasons": {"content_changed": 3},
//	  "graph": {"modules": 247, "module_edges": 812, "functions": 1904, "function_edges": 3310},
//	  "duration_ms": 412
//	}
//
// Only files whose content, indexer version or configuration changed since
// the last checkpoint are re-extracted. force_reindex discards the checkpoint.
//
// # Tool: get_dependencies
//
//	Request:
//	{
//	  "name": "get_dependencies",
//	  "arguments": {"path": "/path/to/project", "file": "src/app.ts"}
//	}
//
//	Response:
//	{
//	  "file": "src/app.ts",
//	  "module_id": "m3f1c9a0b2d4e5f60",
//	  "imports": ["src/util.ts"],
//	  "imported_by": ["src/index.ts"]
//	}
//
// # Error Handling
//
// Errors are returned as *MCPError values carrying a JSON-RPC code:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, filesystem, etc.)
//   - -32001: Project not found (no recognized source files)
//   - -32002: Indexing in progress
//   - -32003: Project not indexed
//   - -32004: File not in the dependency graph
//
// Logs go to stderr; stdout is reserved for the protocol.
package mcp
