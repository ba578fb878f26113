package handlers

import (
	"strings"

	"flowerhub-tryon/internal/catalog"
)

// garlandKeywords maps loose words people type to catalog ids.
var garlandKeywords = map[string][]string{
	"jasmine-royal": {"jasmine", "mogra", "sambac", "royal"},
	"rose-velvet":   {"rose", "roses", "velvet", "ombre"},
	"marigold-sun":  {"marigold", "genda", "sunburst", "golden"},
	"mixed-divine":  {"mixed", "orchid", "lily", "lilies", "divine", "tapestry"},
}

// matchGarland picks the garland a free-text message refers to. An exact id or
// name wins; otherwise the message must hit exactly one garland's keywords.
func matchGarland(text string) (catalog.Item, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return catalog.Item{}, false
	}

	for _, item := range catalog.Items() {
		if t == item.ID || t == strings.ToLower(item.Name) {
			return item, true
		}
	}

	words := strings.FieldsFunc(t, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && r != '-'
	})

	var hit string
	for id, keywords := range garlandKeywords {
		if !containsAny(words, keywords) {
			continue
		}
		if hit != "" {
			return catalog.Item{}, false
		}
		hit = id
	}
	if hit == "" {
		return catalog.Item{}, false
	}
	return catalog.Find(hit)
}

func containsAny(words, keywords []string) bool {
	for _, w := range words {
		for _, kw := range keywords {
			if w == kw {
				return true
			}
		}
	}
	return false
}
