package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/skyegpt/skyegpt-web/internal/mockbackend"
	"github.com/skyegpt/skyegpt-web/internal/services"
	"gopkg.in/yaml.v3"
)

type responderConfig interface {
	responder(systemPrompt string, logger *slog.Logger) (mockbackend.Responder, error)
}

// BaseResponderConfig contains the common fields for all model backed responders.
type BaseResponderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type appConfig struct {
	Port            string          `yaml:"port"`
	LogLevel        string          `yaml:"logLevel"`
	StorePath       string          `yaml:"storePath"`
	SystemPrompt    string          `yaml:"systemPrompt"`
	TokensPerSecond float64         `yaml:"tokensPerSecond"`
	LoadingTexts    []string        `yaml:"loadingTexts"`
	Responder       responderConfig `yaml:"responder"`
}

type echoConfig struct{}

type ollamaConfig struct {
	BaseResponderConfig `yaml:",inline"`
	Host                string `yaml:"host"`
}

type openAIConfig struct {
	BaseResponderConfig `yaml:",inline"`
	APIKey              string                 `yaml:"apiKey"`
	BaseURL             string                 `yaml:"baseURL"`
	Parameters          services.LLMParameters `yaml:"parameters"`
}

type openRouterConfig struct {
	BaseResponderConfig `yaml:",inline"`
	APIKey              string `yaml:"apiKey"`
}

type anthropicConfig struct {
	BaseResponderConfig `yaml:",inline"`
	APIKey              string `yaml:"apiKey"`
	MaxTokens           int    `yaml:"maxTokens"`
}

const defaultSystemPrompt = "You are SkyeGPT, an assistant answering questions about Skye. " +
	"Answer in GitHub flavoured markdown."

func (c *appConfig) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port            string         `yaml:"port"`
		LogLevel        string         `yaml:"logLevel"`
		StorePath       string         `yaml:"storePath"`
		SystemPrompt    string         `yaml:"systemPrompt"`
		TokensPerSecond float64        `yaml:"tokensPerSecond"`
		LoadingTexts    []string       `yaml:"loadingTexts"`
		Responder       map[string]any `yaml:"responder"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.StorePath = rawConfig.StorePath
	c.SystemPrompt = rawConfig.SystemPrompt
	c.TokensPerSecond = rawConfig.TokensPerSecond
	c.LoadingTexts = rawConfig.LoadingTexts

	// No responder section answers with the echo responder
	if len(rawConfig.Responder) == 0 {
		c.Responder = echoConfig{}
		return nil
	}

	provider, ok := rawConfig.Responder["provider"].(string)
	if !ok {
		return fmt.Errorf("responder provider is required")
	}

	responderRawYAML, err := yaml.Marshal(rawConfig.Responder)
	if err != nil {
		return err
	}

	var rc responderConfig
	switch provider {
	case "echo":
		c.Responder = echoConfig{}
		return nil
	case "ollama":
		rc = &ollamaConfig{}
	case "openai":
		rc = &openAIConfig{}
	case "openrouter":
		rc = &openRouterConfig{}
	case "anthropic":
		rc = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown responder provider: %s", provider)
	}

	if err := yaml.Unmarshal(responderRawYAML, rc); err != nil {
		return err
	}

	c.Responder = rc
	return nil
}

func (echoConfig) responder(string, *slog.Logger) (mockbackend.Responder, error) {
	return services.Echo{}, nil
}

func (o ollamaConfig) responder(systemPrompt string, _ *slog.Logger) (mockbackend.Responder, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt)
}

func (o openAIConfig) responder(systemPrompt string, logger *slog.Logger) (mockbackend.Responder, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, o.Parameters, logger), nil
}

func (o openRouterConfig) responder(systemPrompt string, logger *slog.Logger) (mockbackend.Responder, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenRouter(apiKey, o.Model, systemPrompt, logger), nil
}

func (a anthropicConfig) responder(systemPrompt string, _ *slog.Logger) (mockbackend.Responder, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Model, systemPrompt, a.MaxTokens), nil
}
