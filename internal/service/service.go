package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/nmoretto/shipdeck/internal/artifact"
	"github.com/nmoretto/shipdeck/internal/auth"
	"github.com/nmoretto/shipdeck/internal/config"
	"github.com/nmoretto/shipdeck/internal/jobs"
	"github.com/nmoretto/shipdeck/internal/llm"
	"github.com/nmoretto/shipdeck/internal/pptx"
	"github.com/nmoretto/shipdeck/internal/shipment"
	"github.com/nmoretto/shipdeck/internal/translation"
	"github.com/nmoretto/shipdeck/pkg/log"
)

// Store is the slice of persistence the service talks to directly; job rows
// go through the registry instead.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Upload is one file received for submission. Size may be -1 when the
// transport does not know it up front; the read path enforces the cap
// either way.
type Upload struct {
	Name string
	Size int64
	Data io.Reader
}

// Service glues validation, artifact storage, the job registry and the
// executor into the operations the HTTP API exposes.
type Service struct {
	cfg       config.Config
	registry  *jobs.Registry
	executor  *jobs.Executor
	artifacts *artifact.Store
	store     Store
	sessions  *auth.Manager
	cron      *cron.Cron

	sweeps singleflight.Group
}

func New(
	cfg config.Config,
	registry *jobs.Registry,
	executor *jobs.Executor,
	artifacts *artifact.Store,
	store Store,
	sessions *auth.Manager,
	cronEngine *cron.Cron,
) *Service {
	return &Service{
		cfg:       cfg,
		registry:  registry,
		executor:  executor,
		artifacts: artifacts,
		store:     store,
		sessions:  sessions,
		cron:      cronEngine,
	}
}

// SubmitTranslation validates a deck upload and queues a translation job.
// The returned record is pending; execution happens on the worker pool.
func (s *Service) SubmitTranslation(ctx context.Context, upload Upload, optionsJSON string) (*jobs.Record, error) {
	data, err := s.readUpload(upload, ".pptx")
	if err != nil {
		return nil, err
	}

	opts, err := translation.ParseOptions(optionsJSON)
	if err != nil {
		return nil, WrapError(ErrValidation, err, "invalid options")
	}
	if err := validateLanguages(opts); err != nil {
		return nil, err
	}

	// Build the adapter up front so a missing API key rejects the
	// submission instead of failing the job later.
	adapter, err := s.translationAdapter(ctx)
	if err != nil {
		return nil, err
	}

	deck, err := pptx.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, WrapError(ErrValidation, err, "invalid deck")
	}

	return s.enqueue(ctx, jobs.KindTranslation, upload.Name, data, optionsJSON, deck.SlideCount(), adapter.WorkFunc())
}

// SubmitShipment validates a client-record workbook upload and queues a
// shipment-file generation job, one unit per requested market.
func (s *Service) SubmitShipment(ctx context.Context, upload Upload, optionsJSON string) (*jobs.Record, error) {
	data, err := s.readUpload(upload, ".xlsx")
	if err != nil {
		return nil, err
	}

	opts, err := shipment.ParseOptions(optionsJSON)
	if err != nil {
		return nil, WrapError(ErrValidation, err, "invalid options")
	}

	return s.enqueue(ctx, jobs.KindShipment, upload.Name, data, optionsJSON, shipment.UnitsFor(opts), s.shipmentAdapter().WorkFunc())
}

// Job returns a snapshot of one job.
func (s *Service) Job(id string) (*jobs.Record, error) {
	rec, err := s.registry.Get(id)
	if err != nil {
		return nil, fromRegistry(err)
	}
	return rec, nil
}

// Jobs returns job snapshots, most recent first.
func (s *Service) Jobs(kind jobs.Kind, limit int) []*jobs.Record {
	return s.registry.List(kind, limit)
}

// MaxUploadBytes reports the configured upload cap so the HTTP layer can
// bound request bodies before multipart parsing buffers them.
func (s *Service) MaxUploadBytes() int64 {
	return s.cfg.MaxUploadBytes()
}

// Cancel requests cancellation of a job. Pending jobs cancel immediately;
// processing jobs finish at the next unit checkpoint.
func (s *Service) Cancel(id string) (bool, error) {
	if _, err := s.registry.Get(id); err != nil {
		return false, fromRegistry(err)
	}
	return s.executor.Cancel(id), nil
}

// OpenArtifact streams the output artifact of a completed job. The caller
// closes the file.
func (s *Service) OpenArtifact(id string) (*os.File, *jobs.Record, error) {
	rec, err := s.registry.Get(id)
	if err != nil {
		return nil, nil, fromRegistry(err)
	}
	switch {
	case rec.Status == jobs.StatusFailed:
		return nil, nil, NewError(ErrJobFailed, "job failed: %s", rec.Error)
	case rec.Status != jobs.StatusCompleted:
		return nil, nil, NewError(ErrConflict, "job is %s; the artifact is available once completed", rec.Status)
	}

	f, err := s.artifacts.Open(rec.OutputRef)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, artifact.ErrNotFound) {
			return nil, nil, NewError(ErrNotFound, "artifact expired or missing")
		}
		return nil, nil, WrapError(ErrCollaborator, err, "open artifact")
	}
	return f, rec, nil
}

// ResubmitPending re-queues jobs that were accepted but never ran before a
// restart. Jobs whose adapter can no longer be built (for example the API
// key was removed) are failed rather than left stuck.
func (s *Service) ResubmitPending(ctx context.Context) int {
	resubmitted := 0
	for _, rec := range s.registry.PendingOldestFirst() {
		fn, err := s.workFuncFor(ctx, rec.Kind)
		if err != nil {
			log.Error("Cannot resubmit job %s: %v", rec.ID, err)
			if _, failErr := s.registry.Fail(rec.ID, err); failErr != nil {
				log.Error("Failed to fail unresubmittable job %s: %v", rec.ID, failErr)
			}
			continue
		}
		if err := s.executor.Submit(rec.ID, fn); err != nil {
			log.Error("Failed to resubmit job %s: %v", rec.ID, err)
			continue
		}
		resubmitted++
	}
	if resubmitted > 0 {
		log.Info("Re-queued %d pending jobs from the previous run", resubmitted)
	}
	return resubmitted
}

func (s *Service) workFuncFor(ctx context.Context, kind jobs.Kind) (jobs.WorkFunc, error) {
	switch kind {
	case jobs.KindTranslation:
		adapter, err := s.translationAdapter(ctx)
		if err != nil {
			return nil, err
		}
		return adapter.WorkFunc(), nil
	case jobs.KindShipment:
		return s.shipmentAdapter().WorkFunc(), nil
	default:
		return nil, fmt.Errorf("no adapter for job kind %q", kind)
	}
}

// translationAdapter builds the translation work function against the
// effective LLM settings at call time, so settings changes apply to new
// submissions without a restart.
func (s *Service) translationAdapter(ctx context.Context) (*translation.Adapter, error) {
	cfg, err := s.effectiveConfig(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		return nil, NewError(ErrValidation, "llm api key is not configured; set LLM_API_KEY or the llm_api_key setting")
	}

	client, err := llm.NewClient(&llm.Config{
		APIKey:        cfg.LLM.APIKey,
		APIURL:        cfg.LLM.APIURL,
		Model:         cfg.LLM.Model,
		FallbackModel: cfg.LLM.FallbackModel,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		Timeout:       cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, WrapError(ErrValidation, err, "llm client")
	}
	return translation.NewAdapter(client, s.artifacts), nil
}

func (s *Service) shipmentAdapter() *shipment.Adapter {
	return shipment.NewAdapter(s.artifacts)
}

// enqueue registers the job, stores the upload under its id, and hands it to
// the executor. A failed artifact write backs the record out so rejected
// submissions leave nothing behind.
func (s *Service) enqueue(ctx context.Context, kind jobs.Kind, name string, data []byte, optionsJSON string, unitsTotal int, fn jobs.WorkFunc) (*jobs.Record, error) {
	rec, err := s.registry.Create(kind, "", name, optionsJSON, unitsTotal)
	if err != nil {
		return nil, fromRegistry(err)
	}

	ref, err := s.artifacts.Put(rec.ID, artifact.RoleInput, name, bytes.NewReader(data))
	if err != nil {
		s.discard(ctx, rec.ID)
		return nil, WrapError(ErrCollaborator, err, "store upload")
	}

	updated, err := s.registry.Update(rec.ID, func(r *jobs.Record) error {
		r.InputRef = ref
		return nil
	})
	if err != nil {
		s.discard(ctx, rec.ID)
		return nil, fromRegistry(err)
	}
	rec = updated

	if err := s.executor.Submit(rec.ID, fn); err != nil {
		if _, failErr := s.registry.Fail(rec.ID, err); failErr != nil {
			log.Error("Failed to fail unqueueable job %s: %v", rec.ID, failErr)
		}
		return nil, WrapError(ErrCollaborator, err, "queue job")
	}

	log.Info("Accepted %s job %s (%s, %d units)", kind, rec.ID, name, unitsTotal)
	return rec, nil
}

func (s *Service) discard(ctx context.Context, jobID string) {
	if err := s.artifacts.DeleteJob(jobID); err != nil {
		log.Warn("Failed to remove artifacts for discarded job %s: %v", jobID, err)
	}
	if err := s.registry.Delete(ctx, jobID); err != nil {
		log.Warn("Failed to remove discarded job %s: %v", jobID, err)
	}
}

func (s *Service) readUpload(upload Upload, wantExt string) ([]byte, error) {
	name := strings.TrimSpace(upload.Name)
	if name == "" {
		return nil, NewError(ErrValidation, "file name is required")
	}
	if !strings.EqualFold(filepath.Ext(name), wantExt) {
		return nil, NewError(ErrValidation, "expected a %s file, got %q", wantExt, filepath.Base(name))
	}

	maxBytes := s.cfg.MaxUploadBytes()
	if upload.Size > maxBytes {
		return nil, NewError(ErrValidation, "file exceeds the %d MB upload limit", s.cfg.System.MaxUploadMB)
	}
	data, err := io.ReadAll(io.LimitReader(upload.Data, maxBytes+1))
	if err != nil {
		return nil, WrapError(ErrCollaborator, err, "read upload")
	}
	if int64(len(data)) > maxBytes {
		return nil, NewError(ErrValidation, "file exceeds the %d MB upload limit", s.cfg.System.MaxUploadMB)
	}
	if len(data) == 0 {
		return nil, NewError(ErrValidation, "uploaded file is empty")
	}
	return data, nil
}

func validateLanguages(opts translation.Options) error {
	if opts.SourceLang != "auto" {
		if _, err := language.Parse(opts.SourceLang); err != nil {
			return NewError(ErrValidation, "invalid source language %q", opts.SourceLang)
		}
	}
	if _, err := language.Parse(opts.TargetLang); err != nil {
		return NewError(ErrValidation, "invalid target language %q", opts.TargetLang)
	}
	return nil
}

// Login checks the admin password and mints a session. The password is the
// bcrypt hash from the settings table when one exists, otherwise the
// configured bootstrap password.
func (s *Service) Login(ctx context.Context, password string) (auth.Session, error) {
	ok, err := s.checkAdminPassword(ctx, password)
	if err != nil {
		return auth.Session{}, err
	}
	if !ok {
		return auth.Session{}, NewError(ErrUnauthorized, "invalid password")
	}

	sess, err := s.sessions.CreateSession(ctx)
	if err != nil {
		return auth.Session{}, WrapError(ErrCollaborator, err, "create session")
	}
	return sess, nil
}

// Logout revokes a session token. Revoking an unknown token is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return WrapError(ErrCollaborator, err, "destroy session")
	}
	return nil
}

// Authenticate reports whether the token belongs to a live session.
func (s *Service) Authenticate(ctx context.Context, token string) (bool, error) {
	ok, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return false, WrapError(ErrCollaborator, err, "validate session")
	}
	return ok, nil
}

// ChangePassword replaces the admin password after verifying the current
// one. The new password is stored as a bcrypt hash in the settings table and
// survives restarts; the environment bootstrap password stops working.
func (s *Service) ChangePassword(ctx context.Context, current, next string) error {
	ok, err := s.checkAdminPassword(ctx, current)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(ErrUnauthorized, "current password is incorrect")
	}
	if len(next) < 8 {
		return NewError(ErrValidation, "password must be at least 8 characters")
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return WrapError(ErrCollaborator, err, "hash password")
	}
	if err := s.store.PutSetting(ctx, config.SettingAdminPasswordHash, hash); err != nil {
		return WrapError(ErrCollaborator, err, "persist password")
	}
	log.Info("Admin password changed")
	return nil
}

func (s *Service) checkAdminPassword(ctx context.Context, password string) (bool, error) {
	hash, ok, err := s.store.GetSetting(ctx, config.SettingAdminPasswordHash)
	if err != nil {
		return false, WrapError(ErrCollaborator, err, "load password hash")
	}
	if ok && hash != "" {
		return auth.CheckPassword(hash, password), nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Auth.AdminPassword)) == 1, nil
}

// Settings returns the stored runtime settings, unmasked. Callers that
// render them to clients apply Masked.
func (s *Service) Settings(ctx context.Context) (config.RuntimeSettings, error) {
	rows, err := s.store.AllSettings(ctx)
	if err != nil {
		return config.RuntimeSettings{}, WrapError(ErrCollaborator, err, "load settings")
	}
	settings, err := config.RuntimeSettingsFromMap(rows)
	if err != nil {
		return config.RuntimeSettings{}, WrapError(ErrCollaborator, err, "decode settings")
	}
	return settings, nil
}

// ApplySettings validates and stores runtime settings. They take effect on
// the next use: new translation submissions pick up LLM changes, the next
// sweep picks up the retention change.
func (s *Service) ApplySettings(ctx context.Context, next config.RuntimeSettings) (config.RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return config.RuntimeSettings{}, WrapError(ErrValidation, err, "invalid settings")
	}
	// Clients edit the masked settings payload; a masked key echoed back must
	// not overwrite the stored secret.
	if strings.HasPrefix(next.LLMAPIKey, "****") {
		current, err := s.Settings(ctx)
		if err != nil {
			return config.RuntimeSettings{}, err
		}
		next.LLMAPIKey = current.LLMAPIKey
	}
	for key, value := range next.Map() {
		if err := s.store.PutSetting(ctx, key, value); err != nil {
			return config.RuntimeSettings{}, WrapError(ErrCollaborator, err, "persist settings")
		}
	}
	log.Info("Runtime settings updated")
	return next, nil
}

// effectiveConfig overlays the stored runtime settings onto the environment
// configuration.
func (s *Service) effectiveConfig(ctx context.Context) (config.Config, error) {
	rows, err := s.store.AllSettings(ctx)
	if err != nil {
		return config.Config{}, WrapError(ErrCollaborator, err, "load settings")
	}
	settings, err := config.RuntimeSettingsFromMap(rows)
	if err != nil {
		return config.Config{}, WrapError(ErrCollaborator, err, "decode settings")
	}
	return s.cfg.Overlay(settings), nil
}
