// Package retrieve turns stored tool results back into prompt context. It
// wraps the store's similarity search with query construction, result
// deduplication and deterministic formatting of the injected block.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/store"
	"github.com/fyrsmithlabs/recalld/internal/toolresult"
)

var tracer = otel.Tracer("recalld.retrieve")

const (
	blockHeader = "=== Recalled tool results ==="
	blockFooter = "=== End recalled tool results ==="

	// maxRecentCalls bounds how many recent tool invocations feed the
	// search query.
	maxRecentCalls = 3

	// maxGenericInputPairs bounds the fallback input rendering when no
	// recognized keys are present.
	maxGenericInputPairs = 3
)

// salientKeys are input fields rendered preferentially, in this order.
var salientKeys = []string{"file_path", "pattern", "command", "path"}

// Searcher is the subset of the store the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, opts store.SearchOptions) ([]toolresult.SearchResult, error)
}

// ToolCall is a compact record of a recent tool invocation, used to bias
// the search query toward the current task.
type ToolCall struct {
	Name  string
	Input map[string]any
}

// Formatted is the outcome of RetrieveAndFormat. ContextBlock is empty
// when Count is zero.
type Formatted struct {
	ContextBlock string
	Count        int
	Results      []toolresult.SearchResult
}

// Retriever queries the store and renders results for injection.
type Retriever struct {
	searcher Searcher
	cfg      config.RetrievalConfig
	logger   *zap.Logger
}

// New creates a Retriever over the given searcher.
func New(searcher Searcher, cfg config.RetrievalConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{searcher: searcher, cfg: cfg, logger: logger}
}

// Retrieve runs a similarity search scoped by the effective retrieval
// configuration. Results arrive ordered by descending score.
func (r *Retriever) Retrieve(ctx context.Context, query, sessionID string) ([]toolresult.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()

	results, err := r.searcher.Search(ctx, query, store.SearchOptions{
		Limit:        r.cfg.MaxResults,
		MinScore:     r.cfg.MinScore,
		SessionID:    sessionID,
		CrossSession: r.cfg.CrossSession,
	})
	if err != nil {
		return nil, fmt.Errorf("searching stored tool results: %w", err)
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// RetrieveAndFormat searches and renders the matches as one delimited
// context block. No matches yields an empty block and Count zero.
func (r *Retriever) RetrieveAndFormat(ctx context.Context, query, sessionID string) (Formatted, error) {
	results, err := r.Retrieve(ctx, query, sessionID)
	if err != nil {
		return Formatted{}, err
	}
	return r.Format(results), nil
}

// Format renders results without searching. Useful after the caller has
// filtered the result list further.
func (r *Retriever) Format(results []toolresult.SearchResult) Formatted {
	if len(results) == 0 {
		return Formatted{}
	}

	var b strings.Builder
	b.WriteString(blockHeader)
	b.WriteString("\nPrior tool results that may be relevant to the current request:\n")

	for i, res := range results {
		entry := res.Entry
		fmt.Fprintf(&b, "\n[%d] %s (%.0f%% match)", i+1, entry.ToolName, res.Score*100)
		if entry.IsError {
			b.WriteString(" [error]")
		}
		b.WriteString("\n")

		if input := renderInput(entry.Input); input != "" {
			fmt.Fprintf(&b, "    input: %s\n", input)
		}
		if entry.Summary != "" {
			fmt.Fprintf(&b, "    %s\n", indentContinuations(entry.Summary))
		}
		if r.cfg.IncludeContent {
			if excerpt := contentExcerpt(entry.OriginalContent, r.cfg.MaxContentPreview); excerpt != "" {
				fmt.Fprintf(&b, "    content: %s\n", indentContinuations(excerpt))
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(blockFooter)

	return Formatted{
		ContextBlock: b.String(),
		Count:        len(results),
		Results:      results,
	}
}

// ExcludeToolCallIDs drops results whose originating tool call is already
// visible in the conversation, preserving order.
func ExcludeToolCallIDs(results []toolresult.SearchResult, visible map[string]bool) []toolresult.SearchResult {
	if len(visible) == 0 {
		return results
	}
	kept := make([]toolresult.SearchResult, 0, len(results))
	for _, res := range results {
		if res.Entry.ToolCallID != "" && visible[res.Entry.ToolCallID] {
			continue
		}
		kept = append(kept, res)
	}
	return kept
}

// BuildSearchQuery concatenates the user prompt with a compact rendering
// of up to three recent tool invocations to bias retrieval toward the
// current task.
func BuildSearchQuery(prompt string, recentCalls []ToolCall) string {
	prompt = strings.TrimSpace(prompt)
	if len(recentCalls) == 0 {
		return prompt
	}
	if len(recentCalls) > maxRecentCalls {
		recentCalls = recentCalls[len(recentCalls)-maxRecentCalls:]
	}

	parts := make([]string, 0, len(recentCalls))
	for _, call := range recentCalls {
		if call.Name == "" {
			continue
		}
		if input := renderInput(call.Input); input != "" {
			parts = append(parts, fmt.Sprintf("%s %s", call.Name, input))
		} else {
			parts = append(parts, call.Name)
		}
	}
	if len(parts) == 0 {
		return prompt
	}
	return prompt + "\nRecent tools: " + strings.Join(parts, "; ")
}

// renderInput produces a compact, deterministic rendering of salient input
// fields. Recognized keys come first in a fixed order; otherwise the first
// few remaining pairs are rendered in sorted key order.
func renderInput(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}

	var parts []string
	seen := make(map[string]bool, len(salientKeys))
	for _, key := range salientKeys {
		if val, ok := input[key]; ok {
			if s := scalarString(val); s != "" {
				parts = append(parts, fmt.Sprintf("%s=%q", key, s))
				seen[key] = true
			}
		}
	}

	if len(parts) == 0 {
		keys := make([]string, 0, len(input))
		for key := range input {
			if !seen[key] {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			if len(parts) >= maxGenericInputPairs {
				break
			}
			if s := scalarString(input[key]); s != "" {
				parts = append(parts, fmt.Sprintf("%s=%q", key, s))
			}
		}
	}

	return strings.Join(parts, " ")
}

// scalarString renders scalar values; nested structures are skipped to keep
// the rendering compact.
func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 120 {
			val = val[:120]
		}
		return val
	case bool:
		return fmt.Sprintf("%t", val)
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	default:
		return ""
	}
}

// contentExcerpt renders the first text block of the original content,
// bounded to maxChars.
func contentExcerpt(blocks []toolresult.ContentBlock, maxChars int) string {
	text := strings.TrimSpace(toolresult.ExtractText(blocks))
	if text == "" || maxChars <= 0 {
		return ""
	}
	if len(text) > maxChars {
		if maxChars > 3 {
			text = text[:maxChars-3] + "..."
		} else {
			text = text[:maxChars]
		}
	}
	return text
}

// indentContinuations keeps multi-line values aligned under their label.
func indentContinuations(text string) string {
	return strings.ReplaceAll(text, "\n", "\n    ")
}
