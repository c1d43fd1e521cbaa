package memory

import (
	"regexp"
	"sort"
	"strings"
)

var (
	datePattern = regexp.MustCompile(
		`(?i)\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]* \d{1,2},? \d{2,4}\b`)
	entityPattern = regexp.MustCompile(`\b[A-Z][a-z]+ (?:[A-Z][a-z]+ )*[A-Z][a-z]+\b`)
	wordPattern   = regexp.MustCompile(`\b[a-z]{4,}\b`)
)

const (
	maxEntities = 5
	maxTopics   = 3
)

var stopWords = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "from": {}, "have": {}, "were": {},
	"they": {}, "their": {}, "would": {}, "about": {}, "there": {},
}

// ExtractKeyInformation annotates content with heuristic dates, entities
// and topics. Only non-empty results are present in the returned map, each
// as a []string.
func ExtractKeyInformation(content string) map[string]any {
	info := map[string]any{}

	if dates := datePattern.FindAllString(content, -1); len(dates) > 0 {
		info["dates"] = dates
	}

	if entities := entityPattern.FindAllString(content, -1); len(entities) > 0 {
		if len(entities) > maxEntities {
			entities = entities[:maxEntities]
		}
		info["entities"] = entities
	}

	if topics := topWords(strings.ToLower(content), maxTopics); len(topics) > 0 {
		info["topics"] = topics
	}

	return info
}

// topWords returns the n most frequent non-stop words. Ties keep the order
// of first occurrence.
func topWords(text string, n int) []string {
	counts := map[string]int{}
	var order []string
	for _, w := range wordPattern.FindAllString(text, -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}
