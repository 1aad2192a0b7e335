package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, the optional YAML file at path,
// a .env file in the working directory and the process environment, in
// increasing priority. Missing files are not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("RELAY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := os.LookupEnv("RELAY_GRPC_ADDR"); ok {
		cfg.Server.GRPCAddr = v
	}

	// Feed
	if v := os.Getenv("FEED_PROVIDER"); v != "" {
		cfg.Feed.Provider = v
	}
	if v := os.Getenv("FEED_SYMBOL"); v != "" {
		cfg.Feed.Symbol = v
	}
	if v := os.Getenv("FEED_INTERVAL"); v != "" {
		cfg.Feed.Interval = v
	}
	if v := os.Getenv("FEED_REST_URL"); v != "" {
		cfg.Feed.RESTURL = v
	}
	if v := os.Getenv("FEED_WS_URL"); v != "" {
		cfg.Feed.WSURL = v
	}

	// Redis
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("PYROSCOPE_ADDR"); v != "" {
		cfg.Profiling.PyroscopeAddr = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Feed.Provider != "kucoin" && c.Feed.Provider != "binance" {
		errs = append(errs, fmt.Errorf("feed.provider %q is not supported", c.Feed.Provider))
	}
	if c.Feed.Symbol == "" || c.Feed.Interval == "" {
		errs = append(errs, errors.New("feed.symbol and feed.interval are required"))
	}
	if c.Feed.Keepalive <= 0 || c.Feed.BootstrapRetry <= 0 || c.Feed.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("feed timings must be positive"))
	}
	if c.History.Timeout <= 0 {
		errs = append(errs, errors.New("history.timeout must be positive"))
	}
	if c.History.RateLimit < 0 || c.History.Burst < 0 {
		errs = append(errs, errors.New("history.rate_limit and history.burst must not be negative"))
	}
	if c.Subscriber.Buffer <= 0 {
		errs = append(errs, errors.New("subscriber.buffer must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
