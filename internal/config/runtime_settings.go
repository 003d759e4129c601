package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Setting keys as stored in the settings table. AdminPasswordHash is managed
// through the password-change endpoint, never through the settings payload.
const (
	SettingLLMAPIURL         = "llm_api_url"
	SettingLLMAPIKey         = "llm_api_key"
	SettingLLMModel          = "llm_model"
	SettingLLMFallbackModel  = "llm_fallback_model"
	SettingRetentionDays     = "retention_days"
	SettingAdminPasswordHash = "admin_password_hash"
)

// RuntimeSettings is the subset of configuration tunable through the admin
// API without a restart. Empty fields mean "keep the environment value".
type RuntimeSettings struct {
	LLMAPIURL        string `json:"llm_api_url"`
	LLMAPIKey        string `json:"llm_api_key"`
	LLMModel         string `json:"llm_model"`
	LLMFallbackModel string `json:"llm_fallback_model"`
	RetentionDays    int    `json:"retention_days"`
}

func (s RuntimeSettings) Validate() error {
	if s.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be positive, got %d", s.RetentionDays)
	}
	return nil
}

// Overlay returns a copy of the config with every set runtime field applied.
func (c Config) Overlay(s RuntimeSettings) Config {
	if strings.TrimSpace(s.LLMAPIURL) != "" {
		c.LLM.APIURL = s.LLMAPIURL
	}
	if strings.TrimSpace(s.LLMAPIKey) != "" {
		c.LLM.APIKey = s.LLMAPIKey
	}
	if strings.TrimSpace(s.LLMModel) != "" {
		c.LLM.Model = s.LLMModel
	}
	if strings.TrimSpace(s.LLMFallbackModel) != "" {
		c.LLM.FallbackModel = s.LLMFallbackModel
	}
	if s.RetentionDays > 0 {
		c.Retention.Days = s.RetentionDays
	}
	return c
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		*c = c.Overlay(settings)
	}
}

// RuntimeSettingsFromMap decodes settings-table rows. Unknown keys are
// ignored so the map may carry rows owned by other components.
func RuntimeSettingsFromMap(rows map[string]string) (RuntimeSettings, error) {
	var s RuntimeSettings
	s.LLMAPIURL = rows[SettingLLMAPIURL]
	s.LLMAPIKey = rows[SettingLLMAPIKey]
	s.LLMModel = rows[SettingLLMModel]
	s.LLMFallbackModel = rows[SettingLLMFallbackModel]

	if raw, ok := rows[SettingRetentionDays]; ok && strings.TrimSpace(raw) != "" {
		days, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return RuntimeSettings{}, fmt.Errorf("invalid retention_days setting %q: %w", raw, err)
		}
		s.RetentionDays = days
	}
	return s, s.Validate()
}

// Map encodes the settings for the settings table. Every key is written so a
// cleared field drops its override.
func (s RuntimeSettings) Map() map[string]string {
	rows := map[string]string{
		SettingLLMAPIURL:        strings.TrimSpace(s.LLMAPIURL),
		SettingLLMAPIKey:        strings.TrimSpace(s.LLMAPIKey),
		SettingLLMModel:         strings.TrimSpace(s.LLMModel),
		SettingLLMFallbackModel: strings.TrimSpace(s.LLMFallbackModel),
		SettingRetentionDays:    "",
	}
	if s.RetentionDays > 0 {
		rows[SettingRetentionDays] = strconv.Itoa(s.RetentionDays)
	}
	return rows
}

// Masked returns a copy safe for API responses, with the API key reduced to
// its last four characters.
func (s RuntimeSettings) Masked() RuntimeSettings {
	s.LLMAPIKey = MaskSecret(s.LLMAPIKey)
	return s
}

func MaskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
