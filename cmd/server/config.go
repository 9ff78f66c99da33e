package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/services"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/transcript"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = "8080"
	defaultSystemPrompt = "I am a helpful chatbot. I can help you write ES6 TypeScript code."
	defaultModel        = "gpt-3.5-turbo"
	defaultTimeout      = 60 * time.Second
	defaultSessionTTL   = 30 * time.Minute
	defaultStyle        = "github"
)

type llmConfig interface {
	completer(timeout time.Duration, logger *slog.Logger) (transcript.Completer, error)
	model() string
	// proxies reports whether the provider may back the chatbot endpoint. A chatbot provider calls
	// that endpoint itself, so it never does.
	proxies() bool
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	BaseURL    string                 `yaml:"baseURL"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

func (b BaseLLMConfig) model() string {
	if b.Model == "" {
		return defaultModel
	}
	return b.Model
}

func (b BaseLLMConfig) proxies() bool {
	return true
}

type config struct {
	Port         string        `yaml:"port"`
	SystemPrompt string        `yaml:"systemPrompt"`
	SessionTTL   time.Duration `yaml:"sessionTTL"`
	Timeout      time.Duration `yaml:"timeout"`
	Style        string        `yaml:"style"`
	Log          logConfig     `yaml:"log"`
	LLM          llmConfig     `yaml:"llm"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables a rotated log file next to stderr output.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

type chatbotConfig struct {
	BaseLLMConfig `yaml:",inline"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		SystemPrompt *string        `yaml:"systemPrompt"`
		SessionTTL   *time.Duration `yaml:"sessionTTL"`
		Timeout      time.Duration  `yaml:"timeout"`
		Style        string         `yaml:"style"`
		Log          logConfig      `yaml:"log"`
		LLM          map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	// An explicitly empty prompt starts conversations without a baseline.
	c.SystemPrompt = defaultSystemPrompt
	if rawConfig.SystemPrompt != nil {
		c.SystemPrompt = *rawConfig.SystemPrompt
	}
	c.SessionTTL = defaultSessionTTL
	if rawConfig.SessionTTL != nil {
		c.SessionTTL = *rawConfig.SessionTTL
	}
	c.Timeout = rawConfig.Timeout
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	c.Style = rawConfig.Style
	if c.Style == "" {
		c.Style = defaultStyle
	}
	c.Log = rawConfig.Log

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "chatbot":
		llm = &chatbotConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (c chatbotConfig) completer(timeout time.Duration, logger *slog.Logger) (transcript.Completer, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	return services.NewChatbot(c.BaseURL, timeout, logger), nil
}

func (c chatbotConfig) proxies() bool {
	return false
}

func (o openAIConfig) completer(timeout time.Duration, logger *slog.Logger) (transcript.Completer, error) {
	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && o.BaseURL == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.model(), o.Parameters, timeout, logger), nil
}

func (o ollamaConfig) completer(timeout time.Duration, logger *slog.Logger) (transcript.Completer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, o.Parameters, timeout, logger)
}

func (a anthropicConfig) completer(timeout time.Duration, logger *slog.Logger) (transcript.Completer, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.BaseURL, a.Model, a.MaxTokens, a.Parameters, timeout, logger), nil
}

func (o openRouterConfig) completer(timeout time.Duration, logger *slog.Logger) (transcript.Completer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenRouter(apiKey, o.BaseURL, o.Model, o.Parameters, timeout, logger), nil
}

func (l logConfig) level() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}
