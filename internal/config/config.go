package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// 行情配置
	MarketType      string        // metals 或 crypto
	MetalsAPIKey    string        // 为空时只使用本地合成价格
	MetalsAPIURL    string
	PriceCacheTTL   time.Duration
	UpstreamTimeout time.Duration
	ChangeRange     float64 // 合成24h涨跌幅范围 (%), 0 表示按市场类型取默认值

	AdminToken string

	// 可选依赖
	RedisAddr        string
	RedisDB          int
	DatabaseURL      string
	SnapshotSchedule string
	StreamInterval   time.Duration
	AllowedOrigins   []string // WS_ALLOWED_ORIGINS, 逗号分隔

	// 解析失败的配置项, 由调用方记录日志
	Warnings []string
}

func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		MarketType:   strings.ToLower(getEnv("MARKET_TYPE", "metals")),
		MetalsAPIKey: strings.TrimSpace(getEnv("METALS_API_KEY", "")),
		MetalsAPIURL: strings.TrimRight(getEnv("METALS_API_URL", "https://metals-api.com/api"), "/"),

		AdminToken: getEnv("ADMIN_TOKEN", ""),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SnapshotSchedule: getEnv("SNAPSHOT_SCHEDULE", "@every 5m"),
	}

	cfg.PriceCacheTTL = cfg.durationEnv("PRICE_CACHE_TTL", 5*time.Minute)
	cfg.UpstreamTimeout = cfg.durationEnv("UPSTREAM_TIMEOUT", 8*time.Second)
	cfg.StreamInterval = cfg.durationEnv("STREAM_INTERVAL", 10*time.Second)
	cfg.ChangeRange = cfg.floatEnv("CHANGE_RANGE", 0)
	cfg.RedisDB = cfg.intEnv("REDIS_DB", 0)
	cfg.AllowedOrigins = splitList(getEnv("WS_ALLOWED_ORIGINS", ""))

	return cfg
}

// LiveMode reports whether an upstream API key is configured.
func (c *Config) LiveMode() bool {
	return c.MetalsAPIKey != ""
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) durationEnv(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		c.Warnings = append(c.Warnings, key+": invalid duration "+strconv.Quote(raw))
		return def
	}
	return d
}

func (c *Config) floatEnv(key string, def float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		c.Warnings = append(c.Warnings, key+": invalid number "+strconv.Quote(raw))
		return def
	}
	return f
}

func (c *Config) intEnv(key string, def int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.Warnings = append(c.Warnings, key+": invalid integer "+strconv.Quote(raw))
		return def
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
