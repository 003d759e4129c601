package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_JobDefaults(t *testing.T) {
	t.Setenv("WORKER_COUNT", "")
	t.Setenv("MAX_QUEUED_JOBS", "")
	t.Setenv("JOB_TIMEOUT_SECONDS", "")
	t.Setenv("RETENTION_DAYS", "")
	t.Setenv("SWEEP_CRON", "")
	t.Setenv("MAX_UPLOAD_MB", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Jobs.WorkerCount)
	assert.Equal(t, 100, cfg.Jobs.MaxQueuedJobs)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout())
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, "0 3 * * *", cfg.Retention.SweepCron)
	assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes())
}

func TestNewFromEnv_AuthDefaults(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("SESSION_TTL_HOURS", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "admin123", cfg.Auth.AdminPassword)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL())
}

func TestNewFromEnv_LLMDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_API_URL", "")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("LLM_FALLBACK_MODEL", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	// No API key required at boot: shipment jobs run without one.
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.APIURL)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.LLM.Model)
	assert.Equal(t, "claude-3-haiku-20240307", cfg.LLM.FallbackModel)
}

func TestNewFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "zero workers", key: "WORKER_COUNT", value: "0", wantErr: "WORKER_COUNT"},
		{name: "zero queue cap", key: "MAX_QUEUED_JOBS", value: "0", wantErr: "MAX_QUEUED_JOBS"},
		{name: "zero timeout", key: "JOB_TIMEOUT_SECONDS", value: "0", wantErr: "JOB_TIMEOUT_SECONDS"},
		{name: "zero retention", key: "RETENTION_DAYS", value: "0", wantErr: "RETENTION_DAYS"},
		{name: "bad cron", key: "SWEEP_CRON", value: "every day at 3", wantErr: "SWEEP_CRON"},
		{name: "zero upload cap", key: "MAX_UPLOAD_MB", value: "0", wantErr: "MAX_UPLOAD_MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := NewFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
