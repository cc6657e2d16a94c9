// Package contextfmt renders a retrieved memory list as Markdown suitable
// for dropping straight into a prompt. It builds the Markdown itself, then
// round-trips it through goldmark to catch malformed output (an unescaped
// bullet in memory content, for instance) before handing it to the caller.
package contextfmt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/solace-run/memengine"
)

// Render formats memories as a Markdown bullet list, one memory per item,
// annotated with its type, confidence, and (when not currently valid) its
// validity window. Memories are rendered in the order given — callers
// typically pass the already-ranked, already-budgeted result of
// Engine.Retrieve.
func Render(memories []memengine.Memory) (string, error) {
	var buf strings.Builder
	for _, m := range memories {
		buf.WriteString(renderItem(m))
	}
	markdown := buf.String()

	// Validate: a Markdown renderer that errors or panics on this output
	// means the content contains something that broke the parser (runaway
	// fenced code block, malformed link), which should never reach a
	// caller silently.
	var discard bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &discard); err != nil {
		return "", fmt.Errorf("contextfmt: rendered markdown failed validation: %w", err)
	}

	return markdown, nil
}

func renderItem(m memengine.Memory) string {
	content := escapeBullet(m.Content)

	var validity string
	if !m.IsCurrentlyValid() {
		validity = fmt.Sprintf(" (superseded, valid until %s)", formatUnix(*m.ValidUntil))
	}

	return fmt.Sprintf("- **%s** (confidence %.2f)%s: %s\n", m.Type, m.Confidence, validity, content)
}

// escapeBullet prevents memory content starting a line with a Markdown list
// marker from being reinterpreted as a nested list item.
func escapeBullet(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			lines[i] = strings.Replace(line, trimmed[:1], `\`+trimmed[:1], 1)
		}
	}
	return strings.Join(lines, "\n")
}

func formatUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("2006-01-02")
}
