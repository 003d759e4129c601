package translation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// line pairs a text run with its stable index so the model cannot silently
// merge, reorder, or drop runs.
type line struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// buildUserMessage marshals a slide's text runs as indexed JSON lines.
func buildUserMessage(texts []string) (string, error) {
	payload := struct {
		Lines []line `json:"lines"`
	}{Lines: make([]line, len(texts))}
	for i, t := range texts {
		payload.Lines[i] = line{Index: i + 1, Text: t}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode slide text: %w", err)
	}
	return string(data), nil
}

// buildSystemPrompt builds the system prompt for one slide's translation.
func buildSystemPrompt(sourceName, targetName string) string {
	var prompt strings.Builder

	if sourceName != "" {
		prompt.WriteString("You are a professional presentation translation expert. Translate slide text from " + sourceName + " to " + targetName + ".\n\n")
	} else {
		prompt.WriteString("You are a professional presentation translation expert. Translate slide text into " + targetName + ".\n\n")
	}
	prompt.WriteString("The input is a JSON object with a \"lines\" array; each entry is one text run from the slide with its index.\n")

	prompt.WriteString("\n=== TRANSLATION RULES ===\n")
	prompt.WriteString("1. Translate every line accurately and ensure " + targetName + " flows naturally\n")
	prompt.WriteString("2. Do NOT merge, split, reorder, or drop lines\n")
	prompt.WriteString("3. If an input line is empty, output text for that index MUST be an empty string\n")
	prompt.WriteString("4. Keep numbers, codes, URLs and email addresses unchanged\n")
	prompt.WriteString("5. Do NOT output literal newline characters in JSON text\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY a JSON array like [{\"index\":1,\"text\":\"...\"}] with exactly one object per input line.\n")
	prompt.WriteString("Do not include any explanations, notes, or additional text.\n")

	return prompt.String()
}

// parseOutput decodes the model's reply back into per-run texts, ordered by
// index. Plain string arrays are accepted as a fallback; anything else,
// including separator-joined prose, is rejected.
func parseOutput(content string, want int) ([]string, error) {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("empty translation response")
	}

	var indexed []line
	if err := json.Unmarshal([]byte(content), &indexed); err == nil {
		if len(indexed) != want {
			return nil, fmt.Errorf("translation count mismatch: got %d lines, want %d", len(indexed), want)
		}
		out := make([]string, want)
		seen := make(map[int]bool, want)
		for _, l := range indexed {
			if l.Index < 1 || l.Index > want {
				return nil, fmt.Errorf("translation index %d out of range 1..%d", l.Index, want)
			}
			if seen[l.Index] {
				return nil, fmt.Errorf("duplicate translation index %d", l.Index)
			}
			seen[l.Index] = true
			out[l.Index-1] = l.Text
		}
		return out, nil
	}

	var plain []string
	if err := json.Unmarshal([]byte(content), &plain); err == nil {
		if len(plain) != want {
			return nil, fmt.Errorf("translation count mismatch: got %d lines, want %d", len(plain), want)
		}
		return plain, nil
	}

	return nil, fmt.Errorf("translation response is not json: %.80s", content)
}

// stripCodeFence unwraps replies the model insisted on fencing.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
