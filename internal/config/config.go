package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	HTTP   HTTPConfig
	AI     AIConfig
	Store  StoreConfig
	Chat   ChatConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	httpCfg, err := loadHTTPConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		HTTP:   httpCfg,
		AI:     ai,
		Store:  StoreConfig{DBPath: getEnvOrDefault("DB_PATH", "data/fireworks.db")},
		Chat:   ChatConfig{Greeting: strings.TrimSpace(os.Getenv("CHAT_GREETING"))},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// HTTPConfig controls browser-facing behaviour: CORS and the client cookie.
type HTTPConfig struct {
	AllowedOrigins []string
	SecureCookies  bool
}

func loadHTTPConfig() (HTTPConfig, error) {
	secure, err := parseBoolEnv("COOKIE_SECURE", false)
	if err != nil {
		return HTTPConfig{}, err
	}

	return HTTPConfig{
		AllowedOrigins: parseListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		SecureCookies:  secure,
	}, nil
}

// StoreConfig 描述账号存储位置。
type StoreConfig struct {
	DBPath string
}

// ChatConfig holds conversation defaults.
type ChatConfig struct {
	Greeting string
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey          string
	AccessKey       string
	SecretKey       string
	Model           string
	PremiumModel    string
	BaseURL         string
	Region          string
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	StreamResponse  bool
	TitleLLMEnabled bool
	PromptFile      string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// ModelFor returns the premium model for plans that unlock it, otherwise the
// default model. An empty result leaves the choice to the chat model.
func (c AIConfig) ModelFor(premium bool) string {
	if premium && c.PremiumModel != "" {
		return c.PremiumModel
	}
	return ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing Ark credentials or model: provide ARK_API_KEY and ARK_MODEL, or an AK/SK pair")
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

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens != nil && *maxTokens < 1 {
		return AIConfig{}, fmt.Errorf("invalid ARK_MAX_TOKENS value %d: must be positive", *maxTokens)
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	titleEnabled, err := parseBoolEnv("AI_TITLE_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:          strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:       strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:       strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:           strings.TrimSpace(os.Getenv("ARK_MODEL")),
		PremiumModel:    strings.TrimSpace(os.Getenv("ARK_PREMIUM_MODEL")),
		BaseURL:         getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:          getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:     temperature,
		TopP:            topP,
		MaxTokens:       maxTokens,
		StreamResponse:  stream,
		TitleLLMEnabled: titleEnabled,
		PromptFile:      strings.TrimSpace(os.Getenv("PROMPT_FILE")),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseListEnv splits a comma separated value, dropping blanks.
func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
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
