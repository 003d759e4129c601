package shipment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nmoretto/shipdeck/internal/artifact"
	"github.com/nmoretto/shipdeck/internal/jobs"
	"github.com/nmoretto/shipdeck/pkg/log"
)

// Options selects which market files a shipment job generates. Empty means
// all supported markets.
type Options struct {
	Markets []Market `json:"markets,omitempty"`
}

// ParseOptions decodes the options blob stored on a job record.
func ParseOptions(raw string) (Options, error) {
	var opts Options
	if raw == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return opts, fmt.Errorf("decode shipment options: %w", err)
	}
	for _, m := range opts.Markets {
		if _, err := ParseMarket(string(m)); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// UnitsFor returns how many market files a submission will produce.
func UnitsFor(opts Options) int {
	if len(opts.Markets) == 0 {
		return len(AllMarkets())
	}
	return len(opts.Markets)
}

// Adapter turns an uploaded client workbook into per-market shipment files.
type Adapter struct {
	artifacts *artifact.Store
}

func NewAdapter(artifacts *artifact.Store) *Adapter {
	return &Adapter{artifacts: artifacts}
}

// WorkFunc returns the job body executed by the worker pool. Each unit is
// one market file; a market that fails to render is reported and skipped so
// the remaining markets still ship. The job only fails when every market
// does, or when the input workbook cannot be parsed at all.
func (a *Adapter) WorkFunc() jobs.WorkFunc {
	return func(ctx context.Context, job *jobs.Record, report jobs.ReportFunc, cancelled func() bool) (string, error) {
		opts, err := ParseOptions(job.Options)
		if err != nil {
			return "", err
		}
		markets := opts.Markets
		if len(markets) == 0 {
			markets = AllMarkets()
		}

		in, err := a.artifacts.Open(job.InputRef)
		if err != nil {
			return "", fmt.Errorf("open client workbook: %w", err)
		}
		table, err := ParseClients(in)
		in.Close()
		if err != nil {
			return "", err
		}
		log.Info("Parsed client workbook for job %s: sheet=%q rows=%d detected=%v",
			job.ID, table.Sheet, len(table.Rows), table.DetectMarkets())

		now := time.Now()
		files := make(map[Market][]byte, len(markets))
		for i, m := range markets {
			if cancelled() {
				log.Info("Shipment job %s cancelled after %d of %d markets", job.ID, i, len(markets))
				return "", nil
			}
			rows := table.MarketRows(m)
			outcome := jobs.UnitOutcome{
				Unit:   i + 1,
				Method: "auto-filter",
				Detail: fmt.Sprintf("%s: %d rows", m.DisplayName(), len(rows)),
			}
			content, err := GenerateWorkbook(m, rows)
			if err != nil {
				outcome.Error = err.Error()
				report(outcome, jobs.Usage{})
				log.Warn("Market %s failed for job %s: %v", m, job.ID, err)
				continue
			}
			files[m] = content
			report(outcome, jobs.Usage{})
		}

		if len(files) == 0 {
			return "", fmt.Errorf("no market files could be generated")
		}

		name, content, err := a.bundle(files, now)
		if err != nil {
			return "", err
		}
		ref, err := a.artifacts.Put(job.ID, artifact.RoleOutput, name, bytes.NewReader(content))
		if err != nil {
			return "", fmt.Errorf("store shipment output: %w", err)
		}
		return ref, nil
	}
}

// bundle picks the output shape: a single market downloads as a bare
// workbook, several markets as one ZIP.
func (a *Adapter) bundle(files map[Market][]byte, ts time.Time) (string, []byte, error) {
	if len(files) == 1 {
		for m, content := range files {
			return FileName(m, ts), content, nil
		}
	}
	markets := make([]Market, 0, len(files))
	for m := range files {
		markets = append(markets, m)
	}
	var buf bytes.Buffer
	if err := BuildArchive(&buf, files, ts); err != nil {
		return "", nil, fmt.Errorf("build shipment archive: %w", err)
	}
	return ArchiveName(markets, ts), buf.Bytes(), nil
}
