package routing

import "strings"

// approvedReferrerPrefixes lists the search-result origins a gated visitor
// must arrive from. Matching is a byte-prefix check over the raw referrer
// string, not a URL parse: equivalent subdomains and paths behave exactly as
// they did before, and malformed referrers simply fail to match.
var approvedReferrerPrefixes = []string{
	"https://www.google.com/",
	"https://google.com/",
	"https://www.google.co.jp/",
	"https://google.co.jp/",
	"https://www.google.co.uk/",
	"https://google.co.uk/",
	"https://www.google.de/",
	"https://google.de/",
	"https://www.google.fr/",
	"https://google.fr/",
	"https://www.google.ca/",
	"https://google.ca/",
	"https://www.google.com.au/",
	"https://google.com.au/",
}

// TrafficGate decides whether a visitor appears to come from an approved
// search result page. The gate holds no state; the enabled flag is supplied
// per call so tests and the settings document can vary it freely.
type TrafficGate struct{}

// NewTrafficGate constructs a TrafficGate.
func NewTrafficGate() *TrafficGate {
	return &TrafficGate{}
}

// Evaluate reports whether the request may proceed. The explicit original
// referrer, captured client-side before intermediate navigation stripped it,
// takes precedence over the Referer header when present.
func (g *TrafficGate) Evaluate(refererHeader string, explicitOriginalReferrer string, gateEnabled bool) bool {
	if !gateEnabled {
		return true
	}

	checkReferer := refererHeader
	if explicitOriginalReferrer != "" {
		checkReferer = explicitOriginalReferrer
	}
	if checkReferer == "" {
		return false
	}

	for _, prefix := range approvedReferrerPrefixes {
		if strings.HasPrefix(checkReferer, prefix) {
			return true
		}
	}
	return false
}
