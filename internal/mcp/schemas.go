package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Index a Go or TypeScript/JavaScript codebase incrementally and rebuild its dependency graph",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"force_reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, discard the checkpoint and re-index every file",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query indexing status, checkpoint and graph statistics for a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
			},
			Required: []string{"path"},
		},
	}
}

// getDependenciesTool returns the tool definition for get_dependencies
func getDependenciesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_dependencies",
		Description: "List the files a source file imports and the files importing it, with the file's raw import specifiers and symbols",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the indexed project root",
				},
				"file": map[string]interface{}{
					"type":        "string",
					"description": "Source file, relative to the project root or absolute",
				},
			},
			Required: []string{"path", "file"},
		},
	}
}
