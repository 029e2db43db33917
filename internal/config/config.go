package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates service configuration.
type Config struct {
	Server ServerConfig
	Guard  GuardConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	guard, err := loadGuardConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Guard: guard}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// GuardConfig carries model credentials and the moderation pipeline
// settings. The moderation model and the downstream agent model share
// credentials but are selected independently.
type GuardConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	BaseURL   string
	Region    string

	ModerationModel string
	AgentModel      string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	ModerationTimeout time.Duration
	AgentTimeout      time.Duration

	AgentPrompt string
	RulesFile   string
}

// Enabled reports whether the required credentials and models are set.
func (c GuardConfig) Enabled() bool {
	if c.ModerationModel == "" || c.AgentModel == "" {
		return false
	}
	return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
}

// NewChatModel builds an Ark chat model for the given model name.
func (c GuardConfig) NewChatModel(ctx context.Context, modelName string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model selection missing: set ARK_API_KEY (or AK/SK) plus GUARD_MODERATION_MODEL and GUARD_AGENT_MODEL")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       modelName,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadGuardConfig() (GuardConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return GuardConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return GuardConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return GuardConfig{}, err
	}

	moderationTimeout, err := parseTimeoutEnv("GUARD_MODERATION_TIMEOUT", 60*time.Second)
	if err != nil {
		return GuardConfig{}, err
	}

	agentTimeout, err := parseTimeoutEnv("GUARD_AGENT_TIMEOUT", 60*time.Second)
	if err != nil {
		return GuardConfig{}, err
	}

	return GuardConfig{
		APIKey:            strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:         strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:         strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		BaseURL:           getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:            getEnvOrDefault("ARK_REGION", "cn-beijing"),
		ModerationModel:   strings.TrimSpace(os.Getenv("GUARD_MODERATION_MODEL")),
		AgentModel:        strings.TrimSpace(os.Getenv("GUARD_AGENT_MODEL")),
		Temperature:       temperature,
		TopP:              topP,
		MaxTokens:         maxTokens,
		ModerationTimeout: moderationTimeout,
		AgentTimeout:      agentTimeout,
		AgentPrompt:       getEnvOrDefault("GUARD_AGENT_PROMPT", "You are a helpful assistant."),
		RulesFile:         strings.TrimSpace(os.Getenv("GUARD_RULES_FILE")),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseTimeoutEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	seconds, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if seconds == nil {
		return defaultValue, nil
	}
	if *seconds < 1 {
		return 0, fmt.Errorf("invalid %s value %d: must be at least 1 second", key, *seconds)
	}
	return time.Duration(*seconds) * time.Second, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
