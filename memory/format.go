package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// NoMemoriesFound is the context text used when retrieval yields nothing.
const NoMemoriesFound = "No relevant memories found."

const maxContextChars = 100

// FormatMemoriesAsContext renders records as a context block for a prompt.
// The query, when non-empty, is named in the header.
func FormatMemoriesAsContext(records []*Record, query string) string {
	if len(records) == 0 {
		return NoMemoriesFound
	}

	var b strings.Builder
	if query != "" {
		fmt.Fprintf(&b, "Relevant memories related to '%s':\n\n", query)
	} else {
		b.WriteString("Relevant memories:\n\n")
	}

	for i, rec := range records {
		fmt.Fprintf(&b, "Memory #%d (%s)\n", i+1, rec.Type)
		fmt.Fprintf(&b, "From: %s\n", rec.CreatedAt.Format("2006-01-02 15:04"))
		if ctx := metadataSummary(rec.Metadata); ctx != "" {
			fmt.Fprintf(&b, "Context: %s\n", ctx)
		}
		fmt.Fprintf(&b, "Content: %s\n\n", rec.Content)
	}

	return strings.TrimRight(b.String(), "\n")
}

// metadataSummary renders metadata as sorted "key: value" pairs, cut to
// maxContextChars with an ellipsis.
func metadataSummary(md map[string]any) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+FormatValue(md[k]))
	}
	return truncate(strings.Join(parts, ", "), maxContextChars)
}

// FormatValue renders a metadata value for display. Strings are printed
// as-is, everything else as JSON.
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// truncate shortens s to at most n runes, ending with "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
