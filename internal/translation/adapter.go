package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"github.com/nmoretto/shipdeck/internal/artifact"
	"github.com/nmoretto/shipdeck/internal/jobs"
	"github.com/nmoretto/shipdeck/internal/llm"
	"github.com/nmoretto/shipdeck/internal/pptx"
	"github.com/nmoretto/shipdeck/pkg/log"
)

// Methods recorded in unit outcomes.
const (
	MethodText     = "text"     // translated with the primary model
	MethodFallback = "fallback" // translated after a fallback-model retry
	MethodSkipped  = "skipped"  // nothing to translate
)

// Hard cap on a single slide's completion; slide text is short.
const slideMaxTokens = 3000

const slideTemperature = 0.2

// Options selects languages and, optionally, a model override for one job.
type Options struct {
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
	Model      string `json:"model,omitempty"`
}

// ParseOptions decodes the options blob stored on a job record and applies
// defaults: target English, source auto-detected.
func ParseOptions(raw string) (Options, error) {
	var opts Options
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return opts, fmt.Errorf("decode translation options: %w", err)
		}
	}
	opts.SourceLang = strings.ToLower(strings.TrimSpace(opts.SourceLang))
	opts.TargetLang = strings.ToLower(strings.TrimSpace(opts.TargetLang))
	if opts.TargetLang == "" {
		opts.TargetLang = "en"
	}
	if opts.SourceLang == "" {
		opts.SourceLang = "auto"
	}
	return opts, nil
}

// OutputName names the translated deck after its upload.
func OutputName(inputName string) string {
	base := filepath.Base(strings.TrimSpace(inputName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "deck.pptx"
	}
	return "translated_" + base
}

// Adapter translates the text runs of an uploaded deck slide by slide.
type Adapter struct {
	client    *llm.Client
	artifacts *artifact.Store
}

func NewAdapter(client *llm.Client, artifacts *artifact.Store) *Adapter {
	return &Adapter{client: client, artifacts: artifacts}
}

// WorkFunc returns the job body executed by the worker pool. Each unit is
// one slide. Slides without text are skipped; a slide whose translation
// fails is recorded and the job moves on, so one bad slide never sinks the
// deck. The job fails only when every slide with text does, or when the
// deck cannot be read at all.
func (a *Adapter) WorkFunc() jobs.WorkFunc {
	return func(ctx context.Context, job *jobs.Record, report jobs.ReportFunc, cancelled func() bool) (string, error) {
		opts, err := ParseOptions(job.Options)
		if err != nil {
			return "", err
		}

		deckBytes, err := a.artifacts.Get(job.InputRef)
		if err != nil {
			return "", fmt.Errorf("open deck: %w", err)
		}
		deck, err := pptx.Read(bytes.NewReader(deckBytes), int64(len(deckBytes)))
		if err != nil {
			return "", err
		}

		source := opts.SourceLang
		if source == "auto" {
			source = detectDeckLanguage(deck)
			log.Info("Detected source language %q for job %s", source, job.ID)
		}
		sourceName := languageName(source)
		targetName := languageName(opts.TargetLang)

		replacements := make(map[int][]string)
		textSlides, failed := 0, 0
		for _, slide := range deck.Slides {
			if cancelled() {
				log.Info("Translation job %s cancelled at slide %d", job.ID, slide.Index)
				return "", nil
			}

			outcome := jobs.UnitOutcome{Unit: slide.Index}
			if strings.TrimSpace(slide.JoinedText()) == "" {
				outcome.Method = MethodSkipped
				outcome.Detail = "no text"
				report(outcome, jobs.Usage{})
				continue
			}
			if source != "" && source == opts.TargetLang {
				outcome.Method = MethodSkipped
				outcome.Detail = "already " + targetName
				report(outcome, jobs.Usage{})
				continue
			}

			textSlides++
			res, err := a.translateSlide(ctx, slide.Texts, sourceName, targetName, opts.Model)
			outcome.Model = res.model
			outcome.Method = res.method
			if err != nil {
				failed++
				outcome.Error = err.Error()
				report(outcome, res.usage)
				log.Warn("Slide %d failed for job %s: %v", slide.Index, job.ID, err)
				continue
			}
			outcome.Detail = fmt.Sprintf("%d runs", len(res.texts))
			replacements[slide.Index] = res.texts
			report(outcome, res.usage)
		}

		if textSlides > 0 && failed == textSlides {
			return "", fmt.Errorf("all %d slides with text failed to translate", textSlides)
		}

		var out bytes.Buffer
		if err := pptx.Rewrite(bytes.NewReader(deckBytes), int64(len(deckBytes)), &out, replacements); err != nil {
			return "", fmt.Errorf("rewrite deck: %w", err)
		}
		ref, err := a.artifacts.Put(job.ID, artifact.RoleOutput, OutputName(job.InputName), &out)
		if err != nil {
			return "", fmt.Errorf("store translated deck: %w", err)
		}
		return ref, nil
	}
}

// slideResult carries one slide's translation with what it took to get it.
type slideResult struct {
	texts  []string
	model  string
	method string
	usage  jobs.Usage
}

// translateSlide runs one slide through the primary model and retries once
// with the fallback model. Usage is returned even when the attempt fails;
// tokens consumed by a malformed reply are still billed.
func (a *Adapter) translateSlide(ctx context.Context, texts []string, sourceName, targetName, modelOverride string) (slideResult, error) {
	primary := modelOverride
	if primary == "" {
		primary = a.client.Model()
	}

	translated, usage, err := a.attempt(ctx, texts, sourceName, targetName, primary)
	if err == nil {
		return slideResult{texts: translated, model: primary, method: MethodText, usage: usage}, nil
	}

	fallback := a.client.FallbackModel()
	if fallback == "" || fallback == primary {
		return slideResult{model: primary, method: MethodText, usage: usage}, err
	}

	log.Warn("Model %s failed (%v), retrying with %s", primary, err, fallback)
	translated, fbUsage, fbErr := a.attempt(ctx, texts, sourceName, targetName, fallback)
	usage.Add(fbUsage)
	if fbErr != nil {
		return slideResult{model: fallback, method: MethodFallback, usage: usage},
			fmt.Errorf("%s: %v; fallback %s: %v", primary, err, fallback, fbErr)
	}
	return slideResult{texts: translated, model: fallback, method: MethodFallback, usage: usage}, nil
}

func (a *Adapter) attempt(ctx context.Context, texts []string, sourceName, targetName, model string) ([]string, jobs.Usage, error) {
	user, err := buildUserMessage(texts)
	if err != nil {
		return nil, jobs.Usage{}, err
	}

	chatOpts := llm.NewChatCompletionOptions().
		WithSystemPrompt(buildSystemPrompt(sourceName, targetName)).
		WithModel(model).
		WithMaxTokens(slideMaxTokens).
		WithTemperature(slideTemperature)

	resp, err := a.client.ChatCompletion(ctx, []llm.Message{{Role: "user", Content: user}}, chatOpts)
	if err != nil {
		return nil, jobs.Usage{}, err
	}

	usage := jobs.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      Cost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}

	content, err := resp.Content()
	if err != nil {
		return nil, usage, err
	}
	translated, err := parseOutput(content, len(texts))
	if err != nil {
		return nil, usage, err
	}
	return translated, usage, nil
}

// detectDeckLanguage votes across every slide's runs; decks are assumed to
// be single-language.
func detectDeckLanguage(deck *pptx.Deck) string {
	var all []string
	for _, slide := range deck.Slides {
		all = append(all, slide.Texts...)
	}
	tag := DetectSourceLanguage(all)
	if tag == language.Und {
		return ""
	}
	return tag.String()
}
