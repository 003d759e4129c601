package translation

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// DetectSourceLanguage majority-votes the language across text runs.
func DetectSourceLanguage(texts []string) language.Tag {
	votes := make(map[string]int)
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		code := whatlanggo.DetectLang(text).Iso6391()
		if code == "" {
			continue
		}
		votes[code]++
	}

	var topCode string
	var topCount int
	for code, count := range votes {
		if count > topCount {
			topCode = code
			topCount = count
		}
	}
	if topCode == "" {
		return language.Und
	}
	return language.All.Make(topCode)
}

// languageName renders a code for the prompt. Unknown codes pass through
// uppercased; empty and "auto" render empty so the prompt can omit the
// source clause.
func languageName(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	switch code {
	case "", "auto", "und":
		return ""
	case "en":
		return "English"
	case "es":
		return "Spanish"
	case "it":
		return "Italian"
	case "fr":
		return "French"
	case "de":
		return "German"
	case "pt":
		return "Portuguese"
	case "nl":
		return "Dutch"
	case "zh", "zh-cn", "zh_cn":
		return "Chinese"
	case "ja":
		return "Japanese"
	default:
		return strings.ToUpper(code)
	}
}
