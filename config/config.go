package config

import "time"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Feed       FeedConfig       `yaml:"feed"`
	History    HistoryConfig    `yaml:"history"`
	Redis      RedisConfig      `yaml:"redis"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Logging    LoggingConfig    `yaml:"logging"`
	Profiling  ProfilingConfig  `yaml:"profiling"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	GRPCAddr        string        `yaml:"grpc_addr"` // empty disables gRPC
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FeedConfig selects the single upstream candle stream. Empty URLs use the
// provider's public endpoints.
type FeedConfig struct {
	Provider       string        `yaml:"provider"` // kucoin | binance
	RESTURL        string        `yaml:"rest_url"`
	WSURL          string        `yaml:"ws_url"` // binance only
	Symbol         string        `yaml:"symbol"`
	Interval       string        `yaml:"interval"`
	Keepalive      time.Duration `yaml:"keepalive"`
	BootstrapRetry time.Duration `yaml:"bootstrap_retry"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type HistoryConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 disables
	Burst     int           `yaml:"burst"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// RedisConfig enables the history cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SubscriberConfig struct {
	Buffer int `yaml:"buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ProfilingConfig struct {
	PyroscopeAddr string `yaml:"pyroscope_addr"`
	AppName       string `yaml:"app_name"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Feed: FeedConfig{
			Provider:       "kucoin",
			Symbol:         "SOLUSDTM",
			Interval:       "1min",
			Keepalive:      25 * time.Second,
			BootstrapRetry: 10 * time.Second,
			ReconnectDelay: 5 * time.Second,
		},
		History: HistoryConfig{
			Timeout:   10 * time.Second,
			RateLimit: 5,
			Burst:     5,
			CacheTTL:  30 * time.Second,
		},
		Subscriber: SubscriberConfig{Buffer: 64},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Profiling:  ProfilingConfig{AppName: "candlerelay"},
	}
}
