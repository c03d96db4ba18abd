package projector

import (
	"regexp"
	"strings"
)

// genericWords are dropped outright when shortening a tool name component —
// spec §4.5: "drop domain-generic words (DATA, SET, INFO, SERVICE, …)".
var genericWords = map[string]bool{
	"DATA": true, "SET": true, "INFO": true, "SERVICE": true,
	"TYPE": true, "ENTITY": true, "OBJECT": true, "ITEM": true,
}

// synonyms is the fixed synonym table — seeded from the teacher's trivial
// verb-only ShortenedToolOperationNames map and extended with common SAP
// noun abbreviations per spec §4.5's worked example (SCREENING→Scrn,
// ADDRESS→Addr).
var synonyms = map[string]string{
	"SCREENING":    "Scrn",
	"ADDRESS":      "Addr",
	"DOCUMENT":     "Doc",
	"DESCRIPTION":  "Desc",
	"CUSTOMER":     "Cust",
	"VENDOR":       "Vend",
	"PURCHASE":     "Purch",
	"ORGANIZATION": "Org",
	"ACCOUNT":      "Acct",
	"TRANSACTION":  "Txn",
	"CONFIGURATION": "Cfg",
	"REFERENCE":    "Ref",
	"NUMBER":       "Num",
	"CATEGORY":     "Cat",
	"QUANTITY":     "Qty",
	"MATERIAL":     "Matl",
}

var vowels = regexp.MustCompile(`[aeiouAEIOU]`)

// camelBoundary and tokenSeparators break a CamelCase/underscore/dot/whitespace
// token run into individual words.
var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
var tokenSeparators = regexp.MustCompile(`[_\-.\s]+`)

func tokenize(s string) []string {
	decamel := camelBoundary.ReplaceAllString(s, "$1_$2")
	var words []string
	for _, w := range tokenSeparators.Split(decamel, -1) {
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// ShrinkComponent shortens one name component (an entity-set or function
// name) toward targetLen. It is a no-op when the component already fits —
// spec §8 invariant 8: applying shrink to an already-short name is a no-op.
func ShrinkComponent(component string, targetLen int) string {
	if len(component) <= targetLen {
		return component
	}

	words := tokenize(component)
	if len(words) == 0 {
		return component
	}

	// Drop domain-generic words, but never drop the only word.
	var kept []string
	for _, w := range words {
		if len(words) > 1 && genericWords[strings.ToUpper(w)] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		kept = words
	}
	words = kept

	// Apply the synonym table.
	for i, w := range words {
		if syn, ok := synonyms[strings.ToUpper(w)]; ok {
			words[i] = syn
		}
	}

	result := strings.Join(words, "")
	if len(result) <= targetLen {
		return result
	}

	// Pick the longest remaining semantically meaningful token if a single
	// word alone would satisfy the bound.
	longest := words[0]
	for _, w := range words {
		if len(w) > len(longest) {
			longest = w
		}
	}
	if len(longest) <= targetLen {
		return longest
	}

	// Still too long: strip interior vowels from each word, keeping the
	// first character of every word.
	for i, w := range words {
		if len(w) <= 1 {
			continue
		}
		head := w[:1]
		tail := vowels.ReplaceAllString(w[1:], "")
		words[i] = head + tail
	}
	result = strings.Join(words, "")
	if len(result) <= targetLen {
		return result
	}

	if targetLen <= 0 {
		return result
	}
	return result[:targetLen]
}

// ShrinkOperation returns the shortened verb for an operation name — update
// -> upd, delete -> del, create -> crt, matching the worked example in spec
// §4.5. Other verbs are unchanged (filter/count/search/get are already
// short, matching the teacher's seed table).
func ShrinkOperation(op string) string {
	switch op {
	case "update":
		return "upd"
	case "delete":
		return "del"
	case "create":
		return "crt"
	default:
		return op
	}
}
