package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

// GeneratorConfig represents the configuration for a generation client.
// It is scoped to one run; the token is never copied into the process env.
type GeneratorConfig struct {
	Provider  string // "openai" or "ollama"
	BaseURL   string
	Model     string
	Token     string
	MaxTokens int
	RateLimit float64 // requests per second, 0 disables pacing
	Timeout   time.Duration
}

// Client sends one (system, user) pair per call to a chat completion endpoint.
type Client struct {
	config  GeneratorConfig
	llm     llms.Model
	limiter *rate.Limiter
}

// NewWithConfig creates a new Client with the given configuration.
func NewWithConfig(config GeneratorConfig) (*Client, error) {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 4000
	}
	if config.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit cannot be negative")
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}

	httpClient := &http.Client{Timeout: config.Timeout}

	var (
		model llms.Model
		err   error
	)
	switch config.Provider {
	case "openai":
		if config.Token == "" {
			return nil, errors.New("an API token is required for the openai provider")
		}
		if config.BaseURL == "" {
			config.BaseURL = "https://models.inference.ai.azure.com"
		}
		if config.Model == "" {
			config.Model = "gpt-4o"
		}
		model, err = openai.New(
			openai.WithToken(config.Token),
			openai.WithBaseURL(config.BaseURL),
			openai.WithModel(config.Model),
			openai.WithHTTPClient(httpClient),
		)
	case "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		if config.Model == "" {
			config.Model = "mistral"
		}
		model, err = ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
			ollama.WithHTTPClient(httpClient),
		)
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	c := &Client{
		config: config,
		llm:    model,
	}
	if config.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return c, nil
}

// Model returns the model identifier requests are sent with.
func (c *Client) Model() string {
	return c.config.Model
}

// Generate sends a single completion request and returns the raw reply text.
func (c *Client) Generate(ctx context.Context, system, user string, temperature float64) (string, error) {
	if err := ValidateTemperature(temperature); err != nil {
		return "", err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &GenerationError{Kind: KindNetwork, Err: err}
		}
	}

	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	response, err := c.llm.GenerateContent(ctx, content,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(c.config.MaxTokens),
	)
	if err != nil {
		return "", classify(err)
	}

	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", &GenerationError{Kind: KindMalformed, Err: errors.New("no choices in response")}
	}

	text := response.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return "", &GenerationError{Kind: KindMalformed, Err: errors.New("empty reply")}
	}

	return text, nil
}
