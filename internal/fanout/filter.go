// Package fanout selects the devices interested in an article, sends the
// notification to them in concurrent batches and folds the per-batch results
// into a single outcome.
package fanout

import (
	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// IsEligible decides whether a profile wants a notification for the article.
//
// Category preferences must intersect the article categories; an article with
// no categories never matches a non-empty category preference. Location
// preferences only apply when the article itself carries locations.
func IsEligible(p notification.Profile, a notification.ArticlePayload) bool {
	if len(p.CategoryPreferences) > 0 && !intersects(a.Categories, p.CategoryPreferences) {
		return false
	}
	// Unlike categories, an article without locations passes a non-empty
	// location preference.
	if len(p.LocationPreferences) > 0 && len(a.Locations) > 0 && !intersects(a.Locations, p.LocationPreferences) {
		return false
	}
	return true
}

// SelectTokens returns the well-formed tokens of the eligible profiles in
// store order, without duplicates.
func SelectTokens(profiles []notification.Profile, a notification.ArticlePayload, rule dispatch.TokenRule) []string {
	seen := make(map[string]struct{}, len(profiles))
	tokens := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if !rule.Accepts(p.Token) || !IsEligible(p, a) {
			continue
		}
		if _, dup := seen[p.Token]; dup {
			continue
		}
		seen[p.Token] = struct{}{}
		tokens = append(tokens, p.Token)
	}
	return tokens
}

func intersects(values, prefs []string) bool {
	if len(values) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(prefs))
	for _, p := range prefs {
		set[p] = struct{}{}
	}
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// dedupe keeps first-seen order and drops tokens the rule rejects.
func dedupe(tokens []string, rule dispatch.TokenRule) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !rule.Accepts(t) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
