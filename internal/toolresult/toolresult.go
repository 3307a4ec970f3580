// Package toolresult defines the data model shared by the capture and
// recall pipeline: content blocks, stored entries and search results.
package toolresult

import "time"

// BlockKind discriminates content block variants. The set is closed; every
// site that extracts text or truncates content handles all kinds.
type BlockKind string

const (
	// BlockText is a plain text block.
	BlockText BlockKind = "text"
	// BlockImage is an image block carrying base64 data.
	BlockImage BlockKind = "image"
)

// ContentBlock is one element of a tool result's ordered content sequence.
type ContentBlock struct {
	Kind BlockKind `json:"kind"`

	// Text is set for BlockText.
	Text string `json:"text,omitempty"`

	// MediaType and Data are set for BlockImage.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Text returns a text content block.
func Text(s string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: s}
}

// Image returns an image content block.
func Image(mediaType, data string) ContentBlock {
	return ContentBlock{Kind: BlockImage, MediaType: mediaType, Data: data}
}

// ExtractText concatenates the text of all text blocks, separated by
// newlines. Image blocks contribute nothing.
func ExtractText(blocks []ContentBlock) string {
	var out string
	for _, b := range blocks {
		switch b.Kind {
		case BlockText:
			if b.Text == "" {
				continue
			}
			if out != "" {
				out += "\n"
			}
			out += b.Text
		case BlockImage:
			// Not representable as text.
		}
	}
	return out
}

// TruncateBlocks bounds the total text size of a block sequence to
// maxChars, preserving head content. When truncation occurs, image blocks
// are dropped entirely and the last surviving text block is cut.
// The input is never mutated. The second return reports whether anything
// was removed.
func TruncateBlocks(blocks []ContentBlock, maxChars int) ([]ContentBlock, bool) {
	if maxChars <= 0 {
		return nil, len(blocks) > 0
	}

	total := 0
	for _, b := range blocks {
		if b.Kind == BlockText {
			total += len(b.Text)
		}
	}
	if total <= maxChars {
		out := make([]ContentBlock, len(blocks))
		copy(out, blocks)
		return out, false
	}

	out := make([]ContentBlock, 0, len(blocks))
	remaining := maxChars
	for _, b := range blocks {
		switch b.Kind {
		case BlockText:
			if remaining == 0 {
				continue
			}
			if len(b.Text) <= remaining {
				remaining -= len(b.Text)
				out = append(out, b)
				continue
			}
			out = append(out, Text(b.Text[:remaining]))
			remaining = 0
		case BlockImage:
			// Dropped when truncating.
		}
	}
	return out, true
}

// Entry is one captured-and-summarized tool execution.
type Entry struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`

	ToolName        string         `json:"tool_name"`
	Input           map[string]any `json:"input,omitempty"`
	Summary         string         `json:"summary"`
	OriginalContent []ContentBlock `json:"original_content,omitempty"`
	IsError         bool           `json:"is_error,omitempty"`
	Details         map[string]any `json:"details,omitempty"`

	Vector []float32 `json:"vector,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	AccessCount  int       `json:"access_count"`
	LastAccessAt time.Time `json:"last_access_at"`
}

// Clone returns a deep-enough copy for handing entries across the store
// boundary: block and map headers are copied, block contents are immutable.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	if e.OriginalContent != nil {
		out.OriginalContent = make([]ContentBlock, len(e.OriginalContent))
		copy(out.OriginalContent, e.OriginalContent)
	}
	if e.Input != nil {
		out.Input = make(map[string]any, len(e.Input))
		for k, v := range e.Input {
			out.Input[k] = v
		}
	}
	if e.Details != nil {
		out.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	if e.Vector != nil {
		out.Vector = make([]float32, len(e.Vector))
		copy(out.Vector, e.Vector)
	}
	return &out
}

// SearchResult pairs an entry with its similarity score in (0,1],
// monotonically decreasing with vector distance. Ephemeral, produced per
// query.
type SearchResult struct {
	Entry *Entry
	Score float64
}

// Message is one conversation message as seen by the context-construction
// event. Tool-result messages carry the ToolCallID they answer.
type Message struct {
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}
