package execengine

import (
	"strings"

	"github.com/relaybridge/codexgw/internal/journal"
)

// Known context windows. Prefix entries match model families, exact
// entries match single models. Unknown models get null maxTokens and
// percentLeft.
var (
	contextWindowExact = map[string]int64{
		"o3":      200_000,
		"o4-mini": 200_000,
	}
	contextWindowPrefix = []struct {
		prefix string
		max    int64
	}{
		{"gpt-4o", 128_000},
		{"gpt-5.2", 200_000},
	}
)

// lookupMaxTokens returns the context window for a model, if known.
func lookupMaxTokens(model string) (int64, bool) {
	if max, ok := contextWindowExact[model]; ok {
		return max, true
	}
	for _, e := range contextWindowPrefix {
		if strings.HasPrefix(model, e.prefix) {
			return e.max, true
		}
	}
	return 0, false
}

// buildContextInfo computes context usage for a model given the total
// tokens consumed so far.
func buildContextInfo(model string, totalTokens int64) journal.ContextInfo {
	ci := journal.ContextInfo{UsedTokens: totalTokens}
	max, ok := lookupMaxTokens(model)
	if !ok {
		return ci
	}
	pct := float64(max-totalTokens) / float64(max)
	if pct < 0 {
		pct = 0
	}
	ci.MaxTokens = &max
	ci.PercentLeft = &pct
	return ci
}
