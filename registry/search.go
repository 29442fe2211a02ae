package registry

import (
	"fmt"
	"strings"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/search"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/jonwraymond/toolfoundation/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultSearchLimit is used when a search asks for a non-positive limit.
const DefaultSearchLimit = 10

// SearchIndex is a BM25 full-text index over one snapshot's tools.
type SearchIndex struct {
	idx     index.Index
	docs    *tooldoc.InMemoryStore
	skipped []string
}

// Index returns the snapshot's search index, building it on first use.
func (s *Snapshot) Index() (*SearchIndex, error) {
	s.searchOnce.Do(func() {
		s.search, s.searchErr = newSearchIndex(s)
	})
	return s.search, s.searchErr
}

func newSearchIndex(s *Snapshot) (*SearchIndex, error) {
	idx := index.NewInMemoryIndex(index.IndexOptions{
		Searcher: search.NewBM25Searcher(search.BM25Config{}),
	})
	docs := tooldoc.NewInMemoryStore(tooldoc.StoreOptions{Index: idx})
	var skipped []string

	for d := range s.ListAll() {
		tool := model.Tool{
			Tool: mcp.Tool{
				Name:        d.Name,
				Title:       d.Title,
				Description: d.Description,
				InputSchema: d.Schema(),
			},
			Namespace: d.Server,
			Tags:      d.Tags,
		}
		// Tools the index rejects stay callable; they are only left out of search.
		if err := idx.RegisterTool(tool, model.NewLocalBackend(d.ID())); err != nil {
			skipped = append(skipped, d.ID())
			continue
		}
		if err := docs.RegisterDoc(d.ID(), tooldoc.DocEntry{
			Summary: d.Summary(),
			Notes:   paramNotes(d.Params),
		}); err != nil {
			return nil, fmt.Errorf("document %s: %w", d.ID(), err)
		}
	}
	return &SearchIndex{idx: idx, docs: docs, skipped: skipped}, nil
}

func paramNotes(params []Param) string {
	if len(params) == 0 {
		return "No parameters."
	}
	var b strings.Builder
	b.WriteString("Parameters:")
	for _, p := range params {
		req := "optional"
		if p.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "\n- %s (%s, %s)", p.Name, p.Type, req)
		if p.Description != "" {
			b.WriteString(": " + p.Description)
		}
	}
	return b.String()
}

// Search returns the tools best matching query.
func (x *SearchIndex) Search(query string, limit int) ([]index.Summary, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return x.idx.Search(query, limit)
}

// Describe returns documentation for a "server:tool" id.
func (x *SearchIndex) Describe(id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error) {
	return x.docs.DescribeTool(id, level)
}

// Skipped returns the ids of tools the index refused. They are callable
// but never appear in search results or descriptions.
func (x *SearchIndex) Skipped() []string {
	return append([]string(nil), x.skipped...)
}
