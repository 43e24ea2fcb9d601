package match

import (
	"fmt"
	"regexp"
	"strings"
)

// vendorResult carries the vendor axis contribution to the composite score.
type vendorResult struct {
	Reason     string
	Score      float64
	Similarity float64
}

// Normalization patterns applied in order to vendor names before comparison.
var vendorNormalizers = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\s+(inc|llc|ltd|corp|co|company|corporation)\.?$`), ""},
	{regexp.MustCompile(`\s*#\d+$`), ""},
	{regexp.MustCompile(`\s*-\s*\d+$`), ""},
	{regexp.MustCompile(`\*`), ""},
	{regexp.MustCompile(`\s+`), " "},
}

// Statement-name aliases mapped to canonical vendor names.
var vendorAliases = map[string]string{
	"sbux":               "starbucks",
	"starbux":            "starbucks",
	"starbucks coffee":   "starbucks",
	"amzn":               "amazon",
	"amz":                "amazon",
	"amazon.com":         "amazon",
	"amazon marketplace": "amazon",
	"amazon prime":       "amazon",
	"uber technologies":  "uber",
	"uber trip":          "uber",
	"mcdonald's":         "mcdonalds",
	"mcd":                "mcdonalds",
	"7-11":               "7-eleven",
	"7 eleven":           "7-eleven",
	"seven eleven":       "7-eleven",
	"grabpay":            "grab",
	"grabfood":           "grab",
	"line pay":           "line",
	"linepay":            "line",
	"lazada.co.th":       "lazada",
	"shopeepay":          "shopee",
	"food panda":         "foodpanda",
}

// normalizeVendorName lowercases, strips corporate suffixes, branch numbers
// and statement artifacts, and collapses whitespace.
func normalizeVendorName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, n := range vendorNormalizers {
		normalized = n.re.ReplaceAllString(normalized, n.replacement)
	}
	normalized = strings.Trim(normalized, " .,!?:;'\"-")
	return strings.TrimSpace(normalized)
}

// canonicalVendorName resolves known statement aliases.
func canonicalVendorName(normalized string) string {
	if canonical, ok := vendorAliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// tokenSimilarity returns the percentage overlap between the token sets of
// two normalized names.
func tokenSimilarity(a, b string) float64 {
	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(tokensA))
	for _, t := range tokensA {
		setA[t] = true
	}

	shared := 0
	setB := make(map[string]bool, len(tokensB))
	for _, t := range tokensB {
		if setB[t] {
			continue
		}
		setB[t] = true
		if setA[t] {
			shared++
		}
	}

	union := len(setA) + len(setB) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union) * 100
}

// compareVendors scores vendor-name closeness: exact match earns the full
// weight, normalized and alias matches nearly so, then tiers by token
// overlap.
func compareVendors(source, target string, weight float64) vendorResult {
	if strings.TrimSpace(source) == "" || strings.TrimSpace(target) == "" {
		return vendorResult{Reason: "vendor name missing"}
	}

	if strings.EqualFold(strings.TrimSpace(source), strings.TrimSpace(target)) {
		return vendorResult{Score: weight, Similarity: 100, Reason: "vendor names match exactly"}
	}

	normSource := normalizeVendorName(source)
	normTarget := normalizeVendorName(target)
	if normSource != "" && normSource == normTarget {
		return vendorResult{Score: weight * 28 / 30, Similarity: 100, Reason: "vendor names match after normalization"}
	}

	if canonicalVendorName(normSource) == canonicalVendorName(normTarget) {
		return vendorResult{Score: weight * 25 / 30, Similarity: 100, Reason: "vendor names match via alias"}
	}

	similarity := tokenSimilarity(normSource, normTarget)
	result := vendorResult{Similarity: similarity}
	switch {
	case similarity >= 90:
		result.Score = weight * 25 / 30
	case similarity >= 80:
		result.Score = weight * 20 / 30
	case similarity >= 70:
		result.Score = weight * 15 / 30
	case similarity >= 60:
		result.Score = weight * 10 / 30
	default:
		result.Score = 0
		result.Reason = "vendor names do not match"
		return result
	}
	result.Reason = fmt.Sprintf("vendor names %.0f%% similar", similarity)
	return result
}
