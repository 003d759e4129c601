package translation

import "strings"

// rate is the per-million-token price of a model family.
type rate struct {
	inputUSD  float64
	outputUSD float64
}

// Matched by substring so dated ids (claude-3-haiku-20240307) and
// provider-prefixed ids (anthropic/claude-sonnet-4) both pick up their
// family rate. Unknown models bill at the sonnet rate so the estimate errs
// high rather than low.
var modelRates = []struct {
	family string
	rate   rate
}{
	{"claude-3-haiku", rate{inputUSD: 1, outputUSD: 5}},
	{"claude-sonnet-4", rate{inputUSD: 3, outputUSD: 15}},
}

var defaultRate = rate{inputUSD: 3, outputUSD: 15}

// Cost estimates the dollar cost of one completion.
func Cost(model string, inputTokens, outputTokens int) float64 {
	r := defaultRate
	for _, m := range modelRates {
		if strings.Contains(model, m.family) {
			r = m.rate
			break
		}
	}
	return float64(inputTokens)/1_000_000*r.inputUSD +
		float64(outputTokens)/1_000_000*r.outputUSD
}
