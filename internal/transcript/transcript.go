// ABOUTME: Renders a conversation and its messages as a Markdown transcript
// ABOUTME: RenderHTML converts the Markdown with goldmark for browser viewing

package transcript

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/parley/internal/store"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Render writes conv and msgs as Markdown. names maps user IDs to display
// names; unknown IDs are shown as-is.
func Render(conv *store.Conversation, msgs []*store.Message, names map[string]string) []byte {
	name := func(id string) string {
		if n, ok := names[id]; ok && n != "" {
			return n
		}
		return id
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s and %s\n\n", name(conv.Participants[0]), name(conv.Participants[1]))
	fmt.Fprintf(&b, "- Conversation: `%s`\n", conv.ID)
	fmt.Fprintf(&b, "- Started: %s\n", conv.CreatedAt.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "- Messages: %d\n", len(msgs))

	if len(msgs) == 0 {
		b.WriteString("\n_No messages yet._\n")
		return b.Bytes()
	}

	var day time.Time
	for _, m := range msgs {
		at := m.CreatedAt.UTC()
		if d := at.Truncate(24 * time.Hour); !d.Equal(day) {
			day = d
			fmt.Fprintf(&b, "\n## %s\n", day.Format("Monday, 2 January 2006"))
		}

		status := ""
		if m.Read {
			status = " (read)"
		}
		fmt.Fprintf(&b, "\n**%s** at %s%s\n\n", escape(name(m.SenderID)), at.Format("15:04:05"), status)
		for _, line := range strings.Split(m.Text, "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.Bytes()
}

// RenderHTML converts a Markdown transcript to an HTML fragment. Raw HTML in
// message text is not passed through.
func RenderHTML(markdown []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(markdown, &buf); err != nil {
		return nil, fmt.Errorf("converting transcript: %w", err)
	}
	return buf.Bytes(), nil
}

// escape keeps a display name from opening or closing emphasis.
func escape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `_`, `\_`, "`", "\\`")
	return r.Replace(s)
}
