package config

import (
	"strings"
	"testing"
)

// MockEnvLoader implements EnvLoader for testing
type MockEnvLoader struct {
	vars map[string]string
}

func NewMockEnvLoader(vars map[string]string) *MockEnvLoader {
	return &MockEnvLoader{vars: vars}
}

func (m *MockEnvLoader) Getenv(key string) string {
	return m.vars[key]
}

func (m *MockEnvLoader) LookupEnv(key string) (string, bool) {
	val, exists := m.vars[key]
	return val, exists
}

func validEnv() map[string]string {
	return map[string]string{
		"JIRA_BASE_URL": "https://test.atlassian.net",
		"JIRA_TOKEN":    "test-token-123456",
		"REDIS_HOST":    "localhost",
	}
}

func TestConfig_LoadFromEnv_Success(t *testing.T) {
	envVars := validEnv()
	envVars["LOG_LEVEL"] = "debug"
	envVars["LOG_FORMAT"] = "json"

	loader := NewLoaderWithEnv(NewMockEnvLoader(envVars))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.JIRABaseURL != "https://test.atlassian.net" {
		t.Errorf("Expected JIRA_BASE_URL 'https://test.atlassian.net', got '%s'", cfg.JIRABaseURL)
	}
	if cfg.JIRAToken != "test-token-123456" {
		t.Errorf("Expected JIRA_TOKEN 'test-token-123456', got '%s'", cfg.JIRAToken)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("Expected LOG_FORMAT 'json', got '%s'", cfg.LogFormat)
	}
}

func TestConfig_LoadFromEnv_WithDefaults(t *testing.T) {
	loader := NewLoaderWithEnv(NewMockEnvLoader(validEnv()))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LOG_LEVEL 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("Expected default LOG_FORMAT 'text', got '%s'", cfg.LogFormat)
	}
	if cfg.RedisPort != 6379 {
		t.Errorf("Expected default REDIS_PORT 6379, got %d", cfg.RedisPort)
	}
	if cfg.CacheTTLSeconds != 900 {
		t.Errorf("Expected default CACHE_TTL_SECONDS 900, got %d", cfg.CacheTTLSeconds)
	}
	if cfg.UserAmbiguityPolicy != AmbiguityStrict {
		t.Errorf("Expected default USER_AMBIGUITY_POLICY strict, got %q", cfg.UserAmbiguityPolicy)
	}
	if !cfg.CleanupMarkers {
		t.Error("Expected default CLEANUP_MARKERS true")
	}
}

func TestConfig_Validation_MissingRequired(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "missing JIRA_BASE_URL",
			envVars:  map[string]string{"JIRA_TOKEN": "test-token-123", "REDIS_HOST": "localhost"},
			expected: "JIRA_BASE_URL is required",
		},
		{
			name:     "missing JIRA_TOKEN",
			envVars:  map[string]string{"JIRA_BASE_URL": "https://test.atlassian.net", "REDIS_HOST": "localhost"},
			expected: "JIRA_TOKEN is required",
		},
		{
			name:     "missing REDIS_HOST",
			envVars:  map[string]string{"JIRA_BASE_URL": "https://test.atlassian.net", "JIRA_TOKEN": "test-token-123"},
			expected: "REDIS_HOST is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoaderWithEnv(NewMockEnvLoader(tt.envVars))
			_, err := loader.Load()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.expected) {
				t.Errorf("Expected error to contain '%s', got: %v", tt.expected, err)
			}
		})
	}
}

func TestConfig_Validation_InvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(map[string]string)
		expected string
	}{
		{
			name:     "invalid URL",
			mutate:   func(e map[string]string) { e["JIRA_BASE_URL"] = "not-a-url" },
			expected: "JIRA_BASE_URL is invalid",
		},
		{
			name:     "non-https URL warns",
			mutate:   func(e map[string]string) { e["JIRA_BASE_URL"] = "http://test.atlassian.net" },
			expected: "JIRA_BASE_URL should use https",
		},
		{
			name:     "short token",
			mutate:   func(e map[string]string) { e["JIRA_TOKEN"] = "short" },
			expected: "JIRA_TOKEN must be at least 10 characters long",
		},
		{
			name:     "invalid log level",
			mutate:   func(e map[string]string) { e["LOG_LEVEL"] = "invalid" },
			expected: "LOG_LEVEL is invalid",
		},
		{
			name:     "invalid log format",
			mutate:   func(e map[string]string) { e["LOG_FORMAT"] = "invalid" },
			expected: "LOG_FORMAT is invalid",
		},
		{
			name:     "invalid ambiguity policy",
			mutate:   func(e map[string]string) { e["USER_AMBIGUITY_POLICY"] = "loudest" },
			expected: "USER_AMBIGUITY_POLICY must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnv()
			tt.mutate(env)
			loader := NewLoaderWithEnv(NewMockEnvLoader(env))
			_, err := loader.Load()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.expected) {
				t.Errorf("Expected error to contain '%s', got: %v", tt.expected, err)
			}
		})
	}
}

func TestConfig_Validation_MultipleErrors(t *testing.T) {
	loader := NewLoaderWithEnv(NewMockEnvLoader(map[string]string{}))
	_, err := loader.Load()
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}

	errorMsg := err.Error()
	expectedErrors := []string{
		"JIRA_BASE_URL is required",
		"JIRA_TOKEN is required",
		"REDIS_HOST is required",
	}
	for _, expected := range expectedErrors {
		if !strings.Contains(errorMsg, expected) {
			t.Errorf("Expected error to contain '%s', got: %v", expected, err)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	errs := []string{
		"JIRA_BASE_URL is required",
		"JIRA_TOKEN is required",
	}

	err := &ValidationError{Errors: errs}
	expected := "configuration validation failed:\n  - JIRA_BASE_URL is required\n  - JIRA_TOKEN is required"
	if err.Error() != expected {
		t.Errorf("Expected error message:\n%s\nGot:\n%s", expected, err.Error())
	}
}

func TestURL_Validation(t *testing.T) {
	loader := &Loader{}

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https", "https://test.atlassian.net", false},
		{"valid http", "http://test.atlassian.net", false},
		{"missing scheme", "test.atlassian.net", true},
		{"invalid scheme", "ftp://test.atlassian.net", true},
		{"missing host", "https://", true},
		{"invalid format", "not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loader.validateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogLevel_Validation(t *testing.T) {
	loader := &Loader{}

	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run("valid_"+level, func(t *testing.T) {
			if err := loader.validateLogLevel(level); err != nil {
				t.Errorf("validateLogLevel(%s) should be valid, got error: %v", level, err)
			}
		})
	}

	for _, level := range []string{"trace", "fatal", "panic", "invalid"} {
		t.Run("invalid_"+level, func(t *testing.T) {
			if err := loader.validateLogLevel(level); err == nil {
				t.Errorf("validateLogLevel(%s) should be invalid", level)
			}
		})
	}
}

func TestLogFormat_Validation(t *testing.T) {
	loader := &Loader{}

	for _, format := range []string{"text", "json"} {
		t.Run("valid_"+format, func(t *testing.T) {
			if err := loader.validateLogFormat(format); err != nil {
				t.Errorf("validateLogFormat(%s) should be valid, got error: %v", format, err)
			}
		})
	}

	for _, format := range []string{"xml", "yaml", "invalid"} {
		t.Run("invalid_"+format, func(t *testing.T) {
			if err := loader.validateLogFormat(format); err == nil {
				t.Errorf("validateLogFormat(%s) should be invalid", format)
			}
		})
	}
}

func TestRateLimit_Validation(t *testing.T) {
	env := validEnv()
	env["MAX_BACKOFF_DELAY"] = "500ms"
	env["EXPONENTIAL_BACKOFF_BASE"] = "1s"

	loader := NewLoaderWithEnv(NewMockEnvLoader(env))
	_, err := loader.Load()
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "MAX_BACKOFF_DELAY must be greater than or equal to") {
		t.Errorf("unexpected error: %v", err)
	}
}
