package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xhad/quizpack/pkg/roster"
)

type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Workbook WorkbookConfig `yaml:"workbook"`
	Output   OutputConfig   `yaml:"output"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Token       string  `yaml:"token"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	RateLimit   float64 `yaml:"rate_limit"`
	TimeoutSec  int     `yaml:"timeout_seconds"`
}

// Timeout is the per-request deadline for generation calls.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

type WorkbookConfig struct {
	ConfigSheet string `yaml:"config_sheet"`
	RosterSheet string `yaml:"roster_sheet"`
	Columns     struct {
		Subject        string `yaml:"subject"`
		Topic          string `yaml:"topic"`
		QuestionCount  string `yaml:"question_count"`
		AuthoringNotes string `yaml:"authoring_notes"`
		StudentName    string `yaml:"student_name"`
		AverageScore   string `yaml:"average_score"`
		Notes          string `yaml:"notes"`
	} `yaml:"columns"`
}

type OutputConfig struct {
	WorkDir         string `yaml:"work_dir"`
	ArchiveName     string `yaml:"archive_name"`
	Title           string `yaml:"title"`
	Lang            string `yaml:"lang"`
	AllowUnsafeHTML bool   `yaml:"allow_unsafe_html"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

func LoadConfig(path string) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/quizpack/config.yaml"),
			"/etc/quizpack/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	mergeWithEnv(&config)
	applyDefaults(&config)
	return &config, nil
}

// newConfig presets fields whose zero value is meaningful, so an explicit
// zero in the file survives applyDefaults. rate_limit: 0 disables pacing.
func newConfig() Config {
	return Config{LLM: LLMConfig{RateLimit: defaultRateLimit}}
}

const defaultRateLimit = 1.0

// Layout returns the workbook layout described by the config.
func (c *Config) Layout() roster.Layout {
	return roster.Layout{
		ConfigSheet:    c.Workbook.ConfigSheet,
		RosterSheet:    c.Workbook.RosterSheet,
		Subject:        c.Workbook.Columns.Subject,
		Topic:          c.Workbook.Columns.Topic,
		QuestionCount:  c.Workbook.Columns.QuestionCount,
		AuthoringNotes: c.Workbook.Columns.AuthoringNotes,
		StudentName:    c.Workbook.Columns.StudentName,
		AverageScore:   c.Workbook.Columns.AverageScore,
		Notes:          c.Workbook.Columns.Notes,
	}
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "openai"
	}
	if config.LLM.BaseURL == "" {
		switch config.LLM.Provider {
		case "ollama":
			config.LLM.BaseURL = "http://localhost:11434"
		default:
			config.LLM.BaseURL = "https://models.inference.ai.azure.com"
		}
	}
	if config.LLM.Model == "" {
		switch config.LLM.Provider {
		case "ollama":
			config.LLM.Model = "mistral"
		default:
			config.LLM.Model = "gpt-4o"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 4000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.5
	}
	if config.LLM.TimeoutSec == 0 {
		config.LLM.TimeoutSec = 120
	}

	layout := roster.DefaultLayout()
	wb := &config.Workbook
	if wb.ConfigSheet == "" {
		wb.ConfigSheet = layout.ConfigSheet
	}
	if wb.RosterSheet == "" {
		wb.RosterSheet = layout.RosterSheet
	}
	if wb.Columns.Subject == "" {
		wb.Columns.Subject = layout.Subject
	}
	if wb.Columns.Topic == "" {
		wb.Columns.Topic = layout.Topic
	}
	if wb.Columns.QuestionCount == "" {
		wb.Columns.QuestionCount = layout.QuestionCount
	}
	if wb.Columns.AuthoringNotes == "" {
		wb.Columns.AuthoringNotes = layout.AuthoringNotes
	}
	if wb.Columns.StudentName == "" {
		wb.Columns.StudentName = layout.StudentName
	}
	if wb.Columns.AverageScore == "" {
		wb.Columns.AverageScore = layout.AverageScore
	}
	if wb.Columns.Notes == "" {
		wb.Columns.Notes = layout.Notes
	}

	if config.Output.WorkDir == "" {
		config.Output.WorkDir = filepath.Join(os.TempDir(), "quizpack")
	}
	if config.Output.ArchiveName == "" {
		config.Output.ArchiveName = "students_questions.zip"
	}
	if config.Output.Lang == "" {
		config.Output.Lang = "fa"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "quiz_documents"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.MaxUploadMB == 0 {
		config.Server.MaxUploadMB = 10
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Encoding == "" {
		config.Log.Encoding = "console"
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("QUIZPACK_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if baseURL := os.Getenv("QUIZPACK_LLM_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("QUIZPACK_LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		config.LLM.Token = token
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if dir := os.Getenv("QUIZPACK_WORK_DIR"); dir != "" {
		config.Output.WorkDir = dir
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}
