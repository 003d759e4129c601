package shipment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Market is a shipment destination with its own workbook layout.
type Market string

const (
	MarketIT Market = "IT"
	MarketES Market = "ES"
	MarketFR Market = "FR"
)

// AllMarkets returns every supported market in generation order.
func AllMarkets() []Market {
	return []Market{MarketIT, MarketES, MarketFR}
}

// ParseMarket validates a market code from request input.
func ParseMarket(s string) (Market, error) {
	m := Market(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MarketIT, MarketES, MarketFR:
		return m, nil
	default:
		return "", fmt.Errorf("unknown market %q", s)
	}
}

// DisplayName is the human name used in generated file names.
func (m Market) DisplayName() string {
	switch m {
	case MarketIT:
		return "Italy"
	case MarketES:
		return "Spain"
	case MarketFR:
		return "France"
	default:
		return string(m)
	}
}

// Row filters per market. Spanish codes stop at province 52, so anything
// above 5xxxx cannot ship there; Italian and French codes span the full
// five-digit range.
var marketPatterns = map[Market]*regexp.Regexp{
	MarketIT: regexp.MustCompile(`^\d{5}$`),
	MarketES: regexp.MustCompile(`^[0-5]\d{4}$`),
	MarketFR: regexp.MustCompile(`^\d{5}$`),
}

// Matches reports whether a postal code passes the market's row filter.
func (m Market) Matches(postal string) bool {
	re, ok := marketPatterns[m]
	if !ok {
		return false
	}
	return re.MatchString(NormalizePostal(postal))
}

// NormalizePostal cleans a raw spreadsheet cell: whitespace trimmed, the
// ".0" tail of float-formatted numbers stripped, and leading zeros dropped
// by numeric cells restored.
func NormalizePostal(raw string) string {
	code := strings.TrimSpace(raw)
	code = strings.TrimSuffix(code, ".0")
	if code == "" {
		return ""
	}
	if isDigits(code) && len(code) < 5 {
		code = strings.Repeat("0", 5-len(code)) + code
	}
	return code
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// French overseas departments keep a three-digit prefix.
var frenchOverseasPrefixes = map[string]bool{
	"971": true, // Guadeloupe
	"972": true, // Martinique
	"973": true, // Guyane
	"974": true, // Réunion
	"976": true, // Mayotte
}

/// Classify assigns a postal code to a single market for detection counts:
// overseas prefixes and departments 01-95 go to France, every other
// five-digit code defaults to Italy. Codes that are not five digits are
// unclassified.
func Classify(postal string) (Market, bool) {
	code := NormalizePostal(postal)
	if len(code) != 5 || !isDigits(code) {
		return "", false
	}
	if frenchOverseasPrefixes[code[:3]] {
		return MarketFR, true
	}
	dept, err := strconv.Atoi(code[:2])
	if err == nil && dept >= 1 && dept <= 95 {
		return MarketFR, true
	}
	return MarketIT, true
}
