package activity

import (
	"strings"
	"unicode/utf8"
)

// fallbackLines is how many trailing non-empty lines stand in for the active
// paragraph when it is too short to trust.
const fallbackLines = 3

// Region marks a half-open byte range [Start, End) of the surface content
// that was authored by the agent. Text inside these ranges never appears in
// an emitted signal.
type Region struct {
	Start int
	End   int
}

// SurfaceView is a point-in-time snapshot of the editing surface, captured
// with each edit event.
type SurfaceView struct {
	Content      string
	Cursor       int
	AgentRegions []Region
}

// Extract derives the meaningful text from a surface view: the paragraph
// containing the cursor with agent-authored spans removed, falling back to
// the last few non-empty lines when that paragraph is too short, truncated
// to the configured length. It returns the text and the byte position of the
// paragraph it came from. Pure; the tracker calls it when a debounce window
// closes.
func Extract(view SurfaceView, cfg Config) (string, int) {
	content := view.Content
	if content == "" {
		return "", 0
	}

	cursor := view.Cursor
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(content) {
		cursor = len(content)
	}

	start, end := paragraphBounds(content, cursor)
	text := strings.TrimSpace(stripRegions(content, start, end, view.AgentRegions))

	if len(text) < cfg.MinParagraphLength {
		whole := stripRegions(content, 0, len(content), view.AgentRegions)
		text = lastNonEmptyLines(whole, fallbackLines)
		start = 0
	}

	return truncateTail(text, cfg.MaxTextLength), start
}

// paragraphBounds finds the blank-line-delimited paragraph containing pos.
func paragraphBounds(content string, pos int) (int, int) {
	start := 0
	if idx := strings.LastIndex(content[:pos], "\n\n"); idx >= 0 {
		start = idx + 2
	}
	end := len(content)
	if idx := strings.Index(content[pos:], "\n\n"); idx >= 0 {
		end = pos + idx
	}
	return start, end
}

// stripRegions returns content[start:end] with every overlapping agent
// region removed. It walks rune by rune, dropping any rune a region touches,
// so a region boundary falling mid-rune can never produce invalid UTF-8.
func stripRegions(content string, start, end int, regions []Region) string {
	if len(regions) == 0 {
		return content[start:end]
	}

	var b strings.Builder
	pos := start
	for pos < end {
		_, size := utf8.DecodeRuneInString(content[pos:end])
		if size == 0 {
			break
		}
		if touchesRegion(pos, pos+size, regions) {
			pos += size
			continue
		}
		b.WriteString(content[pos : pos+size])
		pos += size
	}
	return b.String()
}

func touchesRegion(start, end int, regions []Region) bool {
	for _, r := range regions {
		if start < r.End && end > r.Start {
			return true
		}
	}
	return false
}

func lastNonEmptyLines(content string, n int) string {
	lines := strings.Split(content, "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		kept = append([]string{strings.TrimSpace(lines[i])}, kept...)
	}
	return strings.Join(kept, "\n")
}

// truncateTail keeps the trailing max runes; the most recently composed text
// is the part worth sending.
func truncateTail(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[len(runes)-max:])
}
