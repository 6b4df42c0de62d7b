package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("DATABASE_URL", "")

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.3
  rate_limit: 0.5

workbook:
  config_sheet: "Settings"
  roster_sheet: "Students"
  columns:
    subject: "Subject"
    student_name: "Name"

output:
  work_dir: "/tmp/quiz"
  archive_name: "batch.zip"
  lang: "en"

database:
  url: "postgres://localhost:5432/test"

log:
  level: "debug"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.3, config.LLM.Temperature)
	assert.Equal(t, 0.5, config.LLM.RateLimit)
	assert.Equal(t, "Settings", config.Workbook.ConfigSheet)
	assert.Equal(t, "Subject", config.Workbook.Columns.Subject)
	assert.Equal(t, "Name", config.Workbook.Columns.StudentName)
	assert.Equal(t, "batch.zip", config.Output.ArchiveName)
	assert.Equal(t, "postgres://localhost:5432/test", config.Database.URL)
	assert.Equal(t, "debug", config.Log.Level)

	// Unset columns fall back to the stock workbook headers.
	assert.Equal(t, "توضیحات", config.Workbook.Columns.Notes)

	layout := config.Layout()
	assert.Equal(t, "Students", layout.RosterSheet)
	assert.Equal(t, "Name", layout.StudentName)

	assert.Empty(t, config.Validate())
}

func TestDefaults(t *testing.T) {
	config := &Config{}
	applyDefaults(config)

	assert.Equal(t, "openai", config.LLM.Provider)
	assert.Equal(t, "https://models.inference.ai.azure.com", config.LLM.BaseURL)
	assert.Equal(t, "gpt-4o", config.LLM.Model)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "Sheet1", config.Workbook.ConfigSheet)
	assert.Equal(t, "Sheet2", config.Workbook.RosterSheet)
	assert.Equal(t, "students_questions.zip", config.Output.ArchiveName)
	assert.Equal(t, "fa", config.Output.Lang)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.LLM.Provider = "bard"
				c.LLM.BaseURL = "invalid-url"
				c.LLM.MaxTokens = 50000
				c.LLM.Temperature = 1.5
				c.Workbook.RosterSheet = c.Workbook.ConfigSheet
			},
			errorMessages: []string{
				"llm.provider: unknown provider",
				"llm.base_url: invalid base URL",
				"max_tokens: max_tokens must be between 1 and 16384",
				"temperature: temperature must be between 0.1 and 1.0",
				"workbook.roster_sheet: config and roster sheets must differ",
			},
		},
		{
			name: "temperature below range",
			mutate: func(c *Config) {
				c.LLM.Temperature = 0.05
			},
			errorMessages: []string{"temperature must be between 0.1 and 1.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			applyDefaults(config)
			tt.mutate(config)

			errors := config.Validate()
			assert.Len(t, errors, len(tt.errorMessages))
			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("QUIZPACK_LLM_BASE_URL", "http://env-llm:8000")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("PORT", "9090")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-llm:8000", config.LLM.BaseURL)
	assert.Equal(t, "ghp_test", config.LLM.Token)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, ":9090", config.Server.Addr)
}

func TestRateLimitZeroDisablesPacing(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("DATABASE_URL", "")

	tests := []struct {
		name string
		yaml string
		want float64
	}{
		{name: "explicit zero", yaml: "llm:\n  rate_limit: 0\n", want: 0},
		{name: "unset", yaml: "llm:\n  model: gpt-4o\n", want: 1.0},
		{name: "explicit value", yaml: "llm:\n  rate_limit: 2.5\n", want: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			config, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, config.LLM.RateLimit)
			assert.Empty(t, config.Validate())
		})
	}
}
