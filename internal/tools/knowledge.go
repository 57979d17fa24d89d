package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mubot/mu/internal/knowledge"
	"github.com/mubot/mu/internal/log"
)

// SearchKnowledgeBaseName is the registered name of the knowledge search tool.
const SearchKnowledgeBaseName = "search_knowledge_base"

const (
	defaultSearchTopK = 5
	maxSearchTopK     = 10
)

// KnowledgeSearcher is the search capability the knowledge tool depends on.
// *knowledge.Store satisfies it.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// KnowledgeSearchInput is the model-facing input of search_knowledge_base.
type KnowledgeSearchInput struct {
	Query string `json:"query" jsonschema:"The search query string"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"Maximum results to return (1-10, default 5)"`
}

// KnowledgeMatch is one search hit returned to the model.
type KnowledgeMatch struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Source     string  `json:"source,omitempty"`
	Similarity float32 `json:"similarity"`
}

// KnowledgeSearchOutput is the result payload of search_knowledge_base.
type KnowledgeSearchOutput struct {
	Query   string           `json:"query"`
	Matches []KnowledgeMatch `json:"matches"`
}

// NewKnowledgeSearch builds the search_knowledge_base tool over searcher.
func NewKnowledgeSearch(searcher KnowledgeSearcher, logger log.Logger) (Handler, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return New(SearchKnowledgeBaseName,
		"Search the knowledge base using semantic similarity. "+
			"Finds stored documents that are conceptually related to the query. "+
			"Returns: matched documents with similarity scores, best first. "+
			"Use this to: answer questions about stored knowledge, look up facts. "+
			"Default top_k: 5. Maximum top_k: 10.",
		func(ctx context.Context, in KnowledgeSearchInput) (KnowledgeSearchOutput, error) {
			if strings.TrimSpace(in.Query) == "" {
				return KnowledgeSearchOutput{}, fmt.Errorf("query is required")
			}
			topK := in.TopK
			if topK <= 0 {
				topK = defaultSearchTopK
			}
			if topK > maxSearchTopK {
				topK = maxSearchTopK
			}

			results, err := searcher.Search(ctx, in.Query, knowledge.WithTopK(topK))
			if err != nil {
				logger.Warn("knowledge search failed", "query", in.Query, "error", err)
				return KnowledgeSearchOutput{}, fmt.Errorf("searching knowledge base: %w", err)
			}

			out := KnowledgeSearchOutput{
				Query:   in.Query,
				Matches: make([]KnowledgeMatch, 0, len(results)),
			}
			for _, r := range results {
				out.Matches = append(out.Matches, KnowledgeMatch{
					ID:         r.Document.ID,
					Content:    r.Document.Content,
					Source:     r.Document.Source,
					Similarity: r.Similarity,
				})
			}
			logger.Debug("knowledge search succeeded", "query", in.Query, "matches", len(out.Matches))
			return out, nil
		})
}
