package tools

import "github.com/mrg275/proof2pay-agents/internal/llm"

// definitions 是全部可声明工具的入参 schema。
var definitions = map[string]llm.Tool{
	NameRepoListFiles: {
		Name:        NameRepoListFiles,
		Description: "List files and directories at a path in the product repository.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"path":   {Type: "string", Description: "Directory path, empty for repository root"},
				"branch": {Type: "string", Description: "Branch name, defaults to the default branch"},
			},
			Required: []string{},
		},
	},
	NameRepoReadFile: {
		Name:        NameRepoReadFile,
		Description: "Read a file from the product repository. Long files are truncated.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"path":   {Type: "string", Description: "File path within the repository"},
				"branch": {Type: "string", Description: "Branch name, defaults to the default branch"},
			},
			Required: []string{"path"},
		},
	},
	NameRepoRecentCommits: {
		Name:        NameRepoRecentCommits,
		Description: "List recent commits on a branch of the product repository.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"count":  {Type: "integer", Description: "Number of commits, max 30"},
				"branch": {Type: "string", Description: "Branch name, defaults to the default branch"},
			},
			Required: []string{},
		},
	},
	NameRepoCommitDiff: {
		Name:        NameRepoCommitDiff,
		Description: "Show the diff of a single commit. Long diffs are truncated.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"sha": {Type: "string", Description: "Commit SHA"},
			},
			Required: []string{"sha"},
		},
	},
	NameRepoOpenPRs: {
		Name:        NameRepoOpenPRs,
		Description: "List currently open pull requests in the product repository.",
		InputSchema: llm.Schema{
			Type:       "object",
			Properties: map[string]llm.Property{},
			Required:   []string{},
		},
	},
	NameWebSearch: {
		Name:        NameWebSearch,
		Description: "Search the web. Returns titles, URLs and snippets.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"query": {Type: "string", Description: "Search query"},
				"count": {Type: "integer", Description: "Number of results, max 10"},
			},
			Required: []string{"query"},
		},
	},
	NameNewsSearch: {
		Name:        NameNewsSearch,
		Description: "Search recent news. Results include age and source.",
		InputSchema: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"query": {Type: "string", Description: "Search query"},
				"count": {Type: "integer", Description: "Number of results, max 10"},
			},
			Required: []string{"query"},
		},
	},
}

// Schemas 按 worker 声明的工具名返回对应的 schema 列表，
// 未知名字被忽略。
func Schemas(names []string) []llm.Tool {
	schemas := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		if def, ok := definitions[name]; ok {
			schemas = append(schemas, def)
		}
	}
	return schemas
}
