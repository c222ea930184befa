package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var dotenvKeys = []string{"JIRA_BASE_URL", "JIRA_TOKEN", "REDIS_HOST", "LOG_LEVEL", "LOG_FORMAT"}

func TestDotEnvLoader_Load_FileNotExists(t *testing.T) {
	envVars := map[string]string{
		"JIRA_BASE_URL": "https://test.atlassian.net",
		"JIRA_TOKEN":    "test-token-123456",
		"REDIS_HOST":    "localhost",
	}

	dotEnvLoader := &DotEnvLoader{
		Loader:   &Loader{envLoader: NewMockEnvLoader(envVars)},
		envFiles: []string{"non-existent.env"},
	}

	cfg, err := dotEnvLoader.Load()
	if err != nil {
		t.Fatalf("Expected no error for missing .env file, got: %v", err)
	}
	if cfg.JIRABaseURL != "https://test.atlassian.net" {
		t.Errorf("Expected config to be loaded from environment variables")
	}
}

func TestDotEnvLoader_Load_ValidFile(t *testing.T) {
	for _, key := range dotenvKeys {
		_ = os.Unsetenv(key)
	}

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	envContent := `JIRA_BASE_URL=https://test.atlassian.net
JIRA_TOKEN=test-token-123456
REDIS_HOST=localhost
LOG_LEVEL=debug
LOG_FORMAT=json
`

	if err := os.WriteFile(envFile, []byte(envContent), 0644); err != nil {
		t.Fatalf("Failed to create test .env file: %v", err)
	}

	oldDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	defer func() { _ = os.Chdir(oldDir) }()

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	loader := NewDotEnvLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.JIRABaseURL != "https://test.atlassian.net" {
		t.Errorf("Expected JIRA_BASE_URL from .env file, got '%s'", cfg.JIRABaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug' from .env file, got '%s'", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("Expected LOG_FORMAT 'json' from .env file, got '%s'", cfg.LogFormat)
	}
}

func TestDotEnvLoader_Load_InvalidFile(t *testing.T) {
	for _, key := range dotenvKeys {
		_ = os.Unsetenv(key)
	}

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	envContent := `JIRA_BASE_URL=https://test.atlassian.net
INVALID_LINE_WITHOUT_EQUALS
JIRA_TOKEN=test-token-123456
`

	if err := os.WriteFile(envFile, []byte(envContent), 0644); err != nil {
		t.Fatalf("Failed to create test .env file: %v", err)
	}

	oldDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	defer func() { _ = os.Chdir(oldDir) }()

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	loader := NewDotEnvLoader()
	_, err = loader.Load()
	if err == nil {
		t.Fatal("Expected error for invalid .env file, got nil")
	}

	var envFileErr *EnvFileError
	if !strings.Contains(err.Error(), "failed to load .env file") {
		t.Errorf("Expected EnvFileError, got: %v", err)
	}
	if envFileErr != nil && !strings.Contains(envFileErr.FilePath, ".env") {
		t.Errorf("Expected file path to contain .env, got: %s", envFileErr.FilePath)
	}
}

func TestDotEnvLoader_MultipleFiles(t *testing.T) {
	tmpDir := t.TempDir()

	env1 := filepath.Join(tmpDir, ".env.local")
	env2 := filepath.Join(tmpDir, ".env.test")

	content1 := `JIRA_BASE_URL=https://test.atlassian.net
LOG_LEVEL=debug
`
	content2 := `JIRA_TOKEN=test-token-123456
REDIS_HOST=localhost
LOG_LEVEL=info
`

	if err := os.WriteFile(env1, []byte(content1), 0644); err != nil {
		t.Fatalf("Failed to create first .env file: %v", err)
	}
	if err := os.WriteFile(env2, []byte(content2), 0644); err != nil {
		t.Fatalf("Failed to create second .env file: %v", err)
	}

	for _, key := range dotenvKeys {
		_ = os.Unsetenv(key)
	}

	loader := NewDotEnvLoader(env1, env2)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.JIRABaseURL != "https://test.atlassian.net" {
		t.Errorf("Expected JIRA_BASE_URL from first file")
	}
	if cfg.RedisHost != "localhost" {
		t.Errorf("Expected REDIS_HOST from second file")
	}
	// LOG_LEVEL should be from the last loaded file (env2): godotenv loads
	// files in order, later files override earlier ones.
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL 'info' (from second file), got '%s'", cfg.LogLevel)
	}
}

func TestEnvFileError(t *testing.T) {
	originalErr := os.ErrNotExist
	envErr := NewEnvFileError("/path/to/.env", originalErr)

	if !strings.Contains(envErr.Error(), "failed to load .env file '/path/to/.env'") {
		t.Errorf("Expected error message to contain file path, got: %s", envErr.Error())
	}
	if envErr.Unwrap() != originalErr {
		t.Errorf("Expected Unwrap to return original error")
	}
}

func TestLoadFromCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	envContent := `JIRA_BASE_URL=https://currentdir.atlassian.net
JIRA_TOKEN=currentdir-token-123456
REDIS_HOST=localhost
`

	if err := os.WriteFile(envFile, []byte(envContent), 0644); err != nil {
		t.Fatalf("Failed to create .env file: %v", err)
	}

	for _, key := range dotenvKeys {
		_ = os.Unsetenv(key)
	}

	oldDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	defer func() { _ = os.Chdir(oldDir) }()

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	cfg, err := LoadFromCurrentDir()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.JIRABaseURL != "https://currentdir.atlassian.net" {
		t.Errorf("Expected JIRA_BASE_URL 'https://currentdir.atlassian.net', got '%s'", cfg.JIRABaseURL)
	}
}

func TestLoadWithEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, "custom.env")

	envContent := `JIRA_BASE_URL=https://custom.atlassian.net
JIRA_TOKEN=custom-token-123456
REDIS_HOST=localhost
`

	if err := os.WriteFile(envFile, []byte(envContent), 0644); err != nil {
		t.Fatalf("Failed to create custom .env file: %v", err)
	}

	for _, key := range dotenvKeys {
		_ = os.Unsetenv(key)
	}

	cfg, err := LoadWithEnvFile(envFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.JIRABaseURL != "https://custom.atlassian.net" {
		t.Errorf("Expected JIRA_BASE_URL 'https://custom.atlassian.net', got '%s'", cfg.JIRABaseURL)
	}
}
