package llm

import (
	"fmt"
)

// Config holds the configuration for the LLM client
// Supports any provider that speaks the OpenAI-compatible chat API
// (OpenRouter, OpenAI, Anthropic gateways, etc.)
//
// APIKey: API key for the provider (required)
// APIURL: API endpoint URL
// Model: Model used for translation requests
// FallbackModel: Model retried once when the primary model fails (optional)
// MaxTokens: Maximum tokens for responses
// Temperature: Sampling temperature (0-2)
// Timeout: Request timeout in seconds
// SiteURL: Site URL for the HTTP referer header (optional)
// AppName: Application name for the X-Title header (optional)
type Config struct {
	APIKey        string  `json:"api_key"`
	APIURL        string  `json:"api_url"`
	Model         string  `json:"model"`
	FallbackModel string  `json:"fallback_model"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	Timeout       int     `json:"timeout"`
	SiteURL       string  `json:"site_url"`
	AppName       string  `json:"app_name"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the LLM API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}

	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}
