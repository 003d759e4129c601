package translation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestDetectSourceLanguage(t *testing.T) {
	t.Parallel()

	spanish := []string{
		"El señor García añadió que mañana habrá una reunión en España.",
		"Los resultados del año superaron todas las expectativas del equipo.",
		"",
	}
	assert.Equal(t, "es", DetectSourceLanguage(spanish).String())

	assert.Equal(t, language.Und, DetectSourceLanguage(nil))
	assert.Equal(t, language.Und, DetectSourceLanguage([]string{"", "   "}))
}

func TestLanguageName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want string
	}{
		{code: "en", want: "English"},
		{code: " ES ", want: "Spanish"},
		{code: "it", want: "Italian"},
		{code: "fr", want: "French"},
		{code: "", want: ""},
		{code: "auto", want: ""},
		{code: "und", want: ""},
		{code: "xx", want: "XX"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, languageName(tt.code))
		})
	}
}
