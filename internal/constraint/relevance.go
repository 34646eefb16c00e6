package constraint

import (
	"sort"
	"strings"
	"unicode"
)

const (
	keywordWeight   = 3
	frameworkWeight = 1
	minTokenLength  = 3
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {}, "what": {},
	"are": {}, "our": {}, "how": {}, "can": {}, "from": {}, "into": {}, "should": {},
	"analyze": {}, "analysis": {}, "only": {}, "ignore": {}, "think": {}, "like": {},
	"review": {}, "please": {}, "about": {}, "does": {}, "not": {}, "its": {},
}

// Score rates how well rec matches the task text. Keyword hits weigh more than
// incidental overlap with the framework text; each task token counts once.
func Score(rec Record, task string) int {
	taskTokens := tokenize(task)
	if len(taskTokens) == 0 {
		return 0
	}
	keywords := make(map[string]struct{}, len(rec.Keywords)+4)
	for _, kw := range rec.Keywords {
		keywords[strings.ToLower(kw)] = struct{}{}
	}
	for part := range tokenize(strings.ReplaceAll(string(rec.ID), "_", " ")) {
		keywords[part] = struct{}{}
	}
	framework := tokenize(rec.Framework)
	score := 0
	for tok := range taskTokens {
		switch {
		case contains(keywords, tok):
			score += keywordWeight
		case contains(framework, tok):
			score += frameworkWeight
		}
	}
	return score
}

// Rank orders records by descending Score, breaking ties by id.
func Rank(records []Record, task string) []Record {
	type scored struct {
		rec   Record
		score int
	}
	items := make([]scored, len(records))
	for i, rec := range records {
		items[i] = scored{rec: rec, score: Score(rec, task)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].rec.ID < items[j].rec.ID
	})
	out := make([]Record, len(items))
	for i, item := range items {
		out[i] = item.rec
	}
	return out
}

func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < minTokenLength {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
