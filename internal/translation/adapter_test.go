package translation

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoretto/shipdeck/internal/artifact"
	"github.com/nmoretto/shipdeck/internal/jobs"
	"github.com/nmoretto/shipdeck/internal/llm"
	"github.com/nmoretto/shipdeck/internal/pptx"
)

const (
	testPrimaryModel  = "claude-sonnet-4-20250514"
	testFallbackModel = "claude-3-haiku-20240307"
)

// mockLLM answers chat completions by upper-casing every line, so
// translations are recognizable without a real model.
type mockLLM struct {
	mu    sync.Mutex
	calls []llm.ChatRequest
	fail  map[string]bool
}

func (m *mockLLM) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.calls = append(m.calls, req)
		failing := m.fail[req.Model]
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
			return
		}

		var payload struct {
			Lines []line `json:"lines"`
		}
		user := req.Messages[len(req.Messages)-1].Content
		if err := json.Unmarshal([]byte(user), &payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([]line, len(payload.Lines))
		for i, l := range payload.Lines {
			out[i] = line{Index: l.Index, Text: strings.ToUpper(l.Text)}
		}
		content, err := json.Marshal(out)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "mock",
			"model": req.Model,
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": string(content)}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 40, "total_tokens": 140},
		})
	}
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestAdapter(t *testing.T, fail map[string]bool) (*Adapter, *mockLLM, *artifact.Store) {
	t.Helper()

	mock := &mockLLM{fail: fail}
	server := httptest.NewServer(mock.handler())
	t.Cleanup(server.Close)

	client, err := llm.NewClient(&llm.Config{
		APIKey:        "test-key",
		APIURL:        server.URL,
		Model:         testPrimaryModel,
		FallbackModel: testFallbackModel,
		MaxTokens:     4096,
		Temperature:   0.7,
		Timeout:       10,
	})
	require.NoError(t, err)

	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	return NewAdapter(client, store), mock, store
}

func buildDeck(t *testing.T, slides ...[]string) []byte {
	t.Helper()

	entries := map[string]string{
		"[Content_Types].xml":  `<?xml version="1.0"?><Types/>`,
		"ppt/presentation.xml": `<?xml version="1.0"?><p:presentation/>`,
	}
	for i, texts := range slides {
		var runs strings.Builder
		for _, text := range texts {
			if text == "" {
				runs.WriteString(`<a:r><a:t/></a:r>`)
				continue
			}
			runs.WriteString(`<a:r><a:t>` + text + `</a:t></a:r>`)
		}
		entries[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] =
			`<?xml version="1.0"?><p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><p:cSld>` + runs.String() + `</p:cSld></p:sld>`
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTranslationJob(t *testing.T, store *artifact.Store, options string, deck []byte) *jobs.Record {
	t.Helper()

	ref, err := store.Put("job-deck", artifact.RoleInput, "Quarterly.pptx", bytes.NewReader(deck))
	require.NoError(t, err)
	return &jobs.Record{
		ID:        "job-deck",
		Kind:      jobs.KindTranslation,
		InputRef:  ref,
		InputName: "Quarterly.pptx",
		Options:   options,
	}
}

type reportCollector struct {
	outcomes []jobs.UnitOutcome
	usage    jobs.Usage
}

func (c *reportCollector) report(outcome jobs.UnitOutcome, usage jobs.Usage) {
	c.outcomes = append(c.outcomes, outcome)
	c.usage.Add(usage)
}

func neverCancelled() bool { return false }

func TestAdapterTranslatesDeck(t *testing.T) {
	t.Parallel()

	adapter, mock, store := newTestAdapter(t, nil)
	deck := buildDeck(t,
		[]string{"Hola equipo", ""},
		nil, // no text runs at all
		[]string{"Informe anual"},
	)
	job := newTranslationJob(t, store, `{"source_lang":"es","target_lang":"en"}`, deck)
	collector := &reportCollector{}

	ref, err := adapter.WorkFunc()(context.Background(), job, collector.report, neverCancelled)
	require.NoError(t, err)
	assert.Equal(t, "job-deck/output/translated_Quarterly.pptx", ref)

	require.Len(t, collector.outcomes, 3)
	first := collector.outcomes[0]
	assert.Equal(t, 1, first.Unit)
	assert.Equal(t, MethodText, first.Method)
	assert.Equal(t, testPrimaryModel, first.Model)
	assert.Equal(t, "2 runs", first.Detail)
	assert.False(t, first.Failed())

	skipped := collector.outcomes[1]
	assert.Equal(t, 2, skipped.Unit)
	assert.Equal(t, MethodSkipped, skipped.Method)
	assert.Equal(t, "no text", skipped.Detail)

	assert.Equal(t, MethodText, collector.outcomes[2].Method)

	assert.Equal(t, 200, collector.usage.InputTokens)
	assert.Equal(t, 80, collector.usage.OutputTokens)
	assert.InDelta(t, 0.0018, collector.usage.CostUSD, 1e-9)

	assert.Equal(t, 2, mock.callCount(), "one call per slide with text")
	mock.mu.Lock()
	request := mock.calls[0]
	mock.mu.Unlock()
	assert.Equal(t, testPrimaryModel, request.Model)
	assert.Equal(t, slideMaxTokens, request.MaxTokens)
	assert.InDelta(t, slideTemperature, request.Temperature, 1e-9)
	require.NotEmpty(t, request.Messages)
	assert.Contains(t, request.Messages[0].Content, "from Spanish to English")

	translated, err := store.Get(ref)
	require.NoError(t, err)
	out, err := pptx.Read(bytes.NewReader(translated), int64(len(translated)))
	require.NoError(t, err)
	require.Equal(t, 3, out.SlideCount())
	assert.Equal(t, []string{"HOLA EQUIPO", ""}, out.Slides[0].Texts)
	assert.Equal(t, []string{"INFORME ANUAL"}, out.Slides[2].Texts)
}

func TestAdapterFallsBackOnPrimaryError(t *testing.T) {
	t.Parallel()

	adapter, mock, store := newTestAdapter(t, map[string]bool{testPrimaryModel: true})
	deck := buildDeck(t, []string{"Hola equipo"})
	job := newTranslationJob(t, store, `{"source_lang":"es","target_lang":"en"}`, deck)
	collector := &reportCollector{}

	ref, err := adapter.WorkFunc()(context.Background(), job, collector.report, neverCancelled)
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	require.Len(t, collector.outcomes, 1)
	outcome := collector.outcomes[0]
	assert.Equal(t, MethodFallback, outcome.Method)
	assert.Equal(t, testFallbackModel, outcome.Model)
	assert.False(t, outcome.Failed())

	assert.Equal(t, 2, mock.callCount(), "primary attempt then fallback")

	// Only the fallback call succeeded, billed at the haiku rate.
	assert.Equal(t, 100, collector.usage.InputTokens)
	assert.InDelta(t, 0.0003, collector.usage.CostUSD, 1e-9)
}

func TestAdapterFailsWhenEverySlideFails(t *testing.T) {
	t.Parallel()

	adapter, _, store := newTestAdapter(t, map[string]bool{
		testPrimaryModel:  true,
		testFallbackModel: true,
	})
	deck := buildDeck(t, []string{"Hola equipo"}, []string{"Informe anual"})
	job := newTranslationJob(t, store, `{"source_lang":"es","target_lang":"en"}`, deck)
	collector := &reportCollector{}

	_, err := adapter.WorkFunc()(context.Background(), job, collector.report, neverCancelled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to translate")

	require.Len(t, collector.outcomes, 2)
	for _, outcome := range collector.outcomes {
		assert.True(t, outcome.Failed())
		assert.Contains(t, outcome.Error, "model overloaded")
	}
}

func TestAdapterSkipsWhenAlreadyTargetLanguage(t *testing.T) {
	t.Parallel()

	adapter, mock, store := newTestAdapter(t, nil)
	deck := buildDeck(t, []string{"Hello team"})
	job := newTranslationJob(t, store, `{"source_lang":"en","target_lang":"en"}`, deck)
	collector := &reportCollector{}

	ref, err := adapter.WorkFunc()(context.Background(), job, collector.report, neverCancelled)
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	require.Len(t, collector.outcomes, 1)
	assert.Equal(t, MethodSkipped, collector.outcomes[0].Method)
	assert.Equal(t, "already English", collector.outcomes[0].Detail)
	assert.Zero(t, mock.callCount())

	copied, err := store.Get(ref)
	require.NoError(t, err)
	out, err := pptx.Read(bytes.NewReader(copied), int64(len(copied)))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello team"}, out.Slides[0].Texts)
}

func TestAdapterCancelledReturnsEarly(t *testing.T) {
	t.Parallel()

	adapter, mock, store := newTestAdapter(t, nil)
	deck := buildDeck(t, []string{"Hola equipo"})
	job := newTranslationJob(t, store, `{"source_lang":"es","target_lang":"en"}`, deck)
	collector := &reportCollector{}

	ref, err := adapter.WorkFunc()(context.Background(), job, collector.report, func() bool { return true })
	require.NoError(t, err)
	assert.Empty(t, ref)
	assert.Empty(t, collector.outcomes)
	assert.Zero(t, mock.callCount())
}

func TestAdapterRejectsBadOptions(t *testing.T) {
	t.Parallel()

	adapter, _, store := newTestAdapter(t, nil)
	deck := buildDeck(t, []string{"Hola"})
	job := newTranslationJob(t, store, `{"target_lang":`, deck)

	_, err := adapter.WorkFunc()(context.Background(), job, (&reportCollector{}).report, neverCancelled)
	require.Error(t, err)
}

func TestParseOptions(t *testing.T) {
	t.Parallel()

	opts, err := ParseOptions("")
	require.NoError(t, err)
	assert.Equal(t, Options{SourceLang: "auto", TargetLang: "en"}, opts)

	opts, err = ParseOptions(`{"source_lang":"ES","target_lang":"IT","model":"claude-3-haiku-20240307"}`)
	require.NoError(t, err)
	assert.Equal(t, "es", opts.SourceLang)
	assert.Equal(t, "it", opts.TargetLang)
	assert.Equal(t, "claude-3-haiku-20240307", opts.Model)

	_, err = ParseOptions(`{`)
	require.Error(t, err)
}

func TestOutputName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "translated_Quarterly.pptx", OutputName("Quarterly.pptx"))
	assert.Equal(t, "translated_deck.pptx", OutputName(""))
	assert.Equal(t, "translated_board.pptx", OutputName("uploads/board.pptx"))
}
