package mcp

import (
	"context"
	"errors"
)

// ===== TOOL SEARCH TOOLS =====

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Regex pattern or search query matched against tool names, descriptions and keywords; empty lists the whole category"`
	Category string `json:"category,omitempty" jsonschema:"Filter results to a category (task, workflow, search)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type toolMatch struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Keywords    []string `json:"keywords,omitempty"`
	Score       int      `json:"score"`
	MatchReason string   `json:"match_reason"`
}

type toolSearchOutput struct {
	Query      string      `json:"query" jsonschema:"Search query used"`
	Results    []toolMatch `json:"results" jsonschema:"Matching tools ordered by score"`
	Count      int         `json:"count" jsonschema:"Number of tools found"`
	TotalTools int         `json:"total_tools" jsonschema:"Total number of tools in registry"`
}

func (s *Server) registerSearchTools() {
	addTool(s, &ToolMetadata{
		Name:        "tool_search",
		Description: "Search the available tools by name, description or keyword",
		Category:    CategorySearch,
		Keywords:    []string{"discover", "find", "help"},
	}, func(_ context.Context, args toolSearchInput) (toolSearchOutput, error) {
		if args.Query == "" && args.Category == "" {
			return toolSearchOutput{}, errors.New("query or category is required")
		}

		limit := args.Limit
		if limit <= 0 {
			limit = 5
		}

		var found []*SearchResult
		switch {
		case args.Query == "":
			for _, tool := range s.toolRegistry.ListByCategory(ToolCategory(args.Category)) {
				found = append(found, &SearchResult{Tool: tool, MatchReason: "category listing"})
			}
		case args.Category != "":
			found = s.toolRegistry.SearchByCategory(args.Query, ToolCategory(args.Category))
		default:
			found = s.toolRegistry.Search(args.Query)
		}
		if len(found) > limit {
			found = found[:limit]
		}

		results := make([]toolMatch, 0, len(found))
		for _, sr := range found {
			results = append(results, toolMatch{
				Name:        sr.Tool.Name,
				Description: sr.Tool.Description,
				Category:    string(sr.Tool.Category),
				Keywords:    sr.Tool.Keywords,
				Score:       sr.Score,
				MatchReason: sr.MatchReason,
			})
		}

		return toolSearchOutput{
			Query:      args.Query,
			Results:    results,
			Count:      len(results),
			TotalTools: s.toolRegistry.Count(),
		}, nil
	})
}
