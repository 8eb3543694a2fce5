package corepapers

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/scholarflow/types"
)

// ToolName is the registered name of the search tool.
const ToolName = "search-papers"

const (
	minPapers     = 1
	maxPapers     = 10
	defaultPapers = 3
)

// SearchTool exposes the CORE client as a registry tool.
type SearchTool struct {
	client *Client
}

// NewSearchTool creates the search-papers tool.
func NewSearchTool(client *Client) *SearchTool {
	return &SearchTool{client: client}
}

// Name implements tools.Tool.
func (t *SearchTool) Name() string { return ToolName }

// Schema implements tools.Tool.
func (t *SearchTool) Schema() types.ToolSchema {
	params := types.NewObjectSchema()
	params.AddProperty("query",
		types.NewStringSchema().WithDescription("The query to search for on the selected archive."), true)
	params.AddProperty("max_papers",
		types.NewIntegerSchema().
			WithDescription("The maximum number of papers to return. Increase up to 10 for a more comprehensive search.").
			WithRange(minPapers, maxPapers).
			WithDefault(defaultPapers), false)

	return types.ToolSchema{
		Name:        ToolName,
		Description: "Search for scientific papers via the CORE API. Example input: {\"query\": \"machine learning in healthcare\", \"max_papers\": 5}",
		Parameters:  params.MarshalRaw(),
	}
}

type searchArgs struct {
	Query     string `json:"query"`
	MaxPapers int    `json:"max_papers"`
}

// Invoke implements tools.Tool. Argument bounds are clamped rather than
// rejected so a slightly-off model request still produces a usable search.
func (t *SearchTool) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in searchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, types.NewError(types.ErrToolValidation, "invalid search-papers arguments").WithCause(err)
	}
	if in.Query == "" {
		return nil, types.NewError(types.ErrToolValidation, "query is required")
	}
	if in.MaxPapers == 0 {
		in.MaxPapers = defaultPapers
	}
	if in.MaxPapers < minPapers {
		in.MaxPapers = minPapers
	}
	if in.MaxPapers > maxPapers {
		in.MaxPapers = maxPapers
	}

	result, err := t.client.Search(ctx, in.Query, in.MaxPapers)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
