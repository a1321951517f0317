// Package contextbank extracts typed entities — addresses, token symbols,
// networks, URLs, GitHub repo references, and numbers — from inbound
// message text. Extraction is a pure function of the text and the
// process-wide token/network vocabularies; it has no side effects and
// performs no I/O.
package contextbank

import (
	"regexp"
	"strconv"
	"strings"
)

// ItemType names one of the typed entities the bank recognizes.
type ItemType string

const (
	TypeEthAddress ItemType = "eth_address"
	TypeToken      ItemType = "token_symbol"
	TypeNetwork    ItemType = "network"
	TypeURL        ItemType = "url"
	TypeGithubURL  ItemType = "github_url"
	TypeNumber     ItemType = "number"
)

// Item is a single extracted, typed value.
type Item struct {
	Type  ItemType
	Value string
}

var (
	ethAddressPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
	urlPattern        = regexp.MustCompile(`https?://[^\s<>\[\]{}()]+`)
	githubURLPattern  = regexp.MustCompile(`github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)`)
	numberPattern     = regexp.MustCompile(`\b(\d{1,3}(,\d{3})*|\d+)(\.\d+)?\b`)
	wordBoundary      = regexp.MustCompile(`[A-Za-z0-9_]+`)
)

// Vocabulary supplies the process-wide token-symbol and network tables the
// bank matches against. Both are keyed case-insensitively; the caller
// (config loader) owns the canonical casing.
type Vocabulary struct {
	Tokens   map[string]struct{}
	Networks map[string]struct{}
}

// NewVocabulary builds a Vocabulary from the raw symbol/network name lists
// declared in configuration (e.g. the keys of payments.tokens and
// payments.networks).
func NewVocabulary(tokens, networks []string) Vocabulary {
	v := Vocabulary{
		Tokens:   make(map[string]struct{}, len(tokens)),
		Networks: make(map[string]struct{}, len(networks)),
	}
	for _, t := range tokens {
		v.Tokens[strings.ToLower(t)] = struct{}{}
	}
	for _, n := range networks {
		v.Networks[strings.ToLower(n)] = struct{}{}
	}
	return v
}

// Extract scans text and returns the deduplicated set of typed items,
// per spec.md §4.10's rules. Dedup key is (type, value.lower()); first
// occurrence wins.
func Extract(text string, vocab Vocabulary) []Item {
	seen := make(map[string]bool)
	var items []Item

	add := func(t ItemType, value string) {
		key := string(t) + "\x00" + strings.ToLower(value)
		if seen[key] {
			return
		}
		seen[key] = true
		items = append(items, Item{Type: t, Value: value})
	}

	for _, m := range ethAddressPattern.FindAllString(text, -1) {
		add(TypeEthAddress, strings.ToLower(m))
	}

	for _, m := range wordBoundary.FindAllString(text, -1) {
		lower := strings.ToLower(m)
		if _, ok := vocab.Tokens[lower]; ok {
			add(TypeToken, lower)
		}
		if _, ok := vocab.Networks[lower]; ok {
			add(TypeNetwork, lower)
		}
	}

	for _, raw := range urlPattern.FindAllString(text, -1) {
		u := strings.TrimRight(raw, ".,;:!?)]}\"'")
		if m := githubURLPattern.FindStringSubmatch(u); m != nil {
			add(TypeGithubURL, m[1]+"/"+m[2])
			continue
		}
		add(TypeURL, u)
	}

	for _, m := range numberPattern.FindAllString(text, -1) {
		cleaned := strings.ReplaceAll(m, ",", "")
		v, err := strconv.ParseFloat(cleaned, 64)
		if err != nil || v < 1 {
			continue
		}
		add(TypeNumber, cleaned)
	}

	return items
}
