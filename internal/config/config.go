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

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Widget   WidgetConfig
	Identity IdentityConfig
	Store    StoreConfig
	AI       AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	widget, err := loadWidgetConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Widget:   widget,
		Identity: loadIdentityConfig(),
		Store:    store,
		AI:       ai,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, CORSOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CORSOrigins: origins}, nil
}

// WidgetConfig holds the values the page used to receive as injected globals.
type WidgetConfig struct {
	AppID        string
	InitialToken string
	PersonaID    string
	Language     string
	// IdleTimeout 之后没有连接的会话会被回收，0 表示不回收。
	IdleTimeout time.Duration
}

// DefaultSessionIdleTimeout applies when SESSION_IDLE_TIMEOUT is unset.
const DefaultSessionIdleTimeout = 30 * time.Minute

func loadWidgetConfig() (WidgetConfig, error) {
	idle := DefaultSessionIdleTimeout
	if raw := strings.TrimSpace(os.Getenv("SESSION_IDLE_TIMEOUT")); raw != "" {
		val, err := time.ParseDuration(raw)
		if err != nil || val < 0 {
			return WidgetConfig{}, fmt.Errorf("invalid SESSION_IDLE_TIMEOUT value: %q", raw)
		}
		idle = val
	}

	return WidgetConfig{
		AppID:        getEnvOrDefault("APP_ID", "default-app-id"),
		InitialToken: strings.TrimSpace(os.Getenv("INITIAL_AUTH_TOKEN")),
		PersonaID:    getEnvOrDefault("PERSONA_ID", "jervis"),
		Language:     getEnvOrDefault("SPEECH_LANGUAGE", "hi-IN"),
		IdleTimeout:  idle,
	}, nil
}

// IdentityConfig 描述身份服务配置。APIKey 为空时使用本地匿名身份。
type IdentityConfig struct {
	APIKey  string
	BaseURL string
}

// Remote reports whether the hosted identity service should be used.
func (c IdentityConfig) Remote() bool {
	return c.APIKey != ""
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		APIKey:  strings.TrimSpace(os.Getenv("FIREBASE_API_KEY")),
		BaseURL: getEnvOrDefault("IDENTITY_BASE_URL", "https://identitytoolkit.googleapis.com/v1"),
	}
}

// Store drivers.
const (
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
	StoreNone      = "none"
)

// StoreConfig 描述消息持久化配置。
type StoreConfig struct {
	Driver    string
	DBPath    string
	ProjectID string
	BaseURL   string
}

func loadStoreConfig() (StoreConfig, error) {
	cfg := StoreConfig{
		Driver:    strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreSQLite)),
		DBPath:    getEnvOrDefault("DB_PATH", "./data/jervis.db"),
		ProjectID: strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID")),
		BaseURL:   getEnvOrDefault("FIRESTORE_BASE_URL", "https://firestore.googleapis.com/v1"),
	}

	switch cfg.Driver {
	case StoreSQLite, StoreNone:
	case StoreFirestore:
		if cfg.ProjectID == "" {
			return StoreConfig{}, fmt.Errorf("FIREBASE_PROJECT_ID is required when STORE_DRIVER=%s", StoreFirestore)
		}
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value: %q", cfg.Driver)
	}
	return cfg, nil
}

// Model providers.
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示所选提供方是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey != "" && c.GeminiModel != ""
	case ProviderOpenAI:
		return c.OpenAIAPIKey != "" && c.OpenAIModel != ""
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	default:
		return false
	}
}

// NewArkChatModel 使用 Ark 配置创建一个模型实例。
func (c AIConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Provider != ProviderArk || !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
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
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
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

	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderGemini))
	switch provider {
	case ProviderGemini, ProviderArk, ProviderOpenAI:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value: %q", provider)
	}

	return AIConfig{
		Provider:      provider,
		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:   getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash-preview-05-20"),
		GeminiBaseURL: getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("Model")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
