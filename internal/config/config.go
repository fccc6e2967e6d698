package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server struct {
		Port           string        `default:"8080" envconfig:"PORT"`
		ReadTimeout    time.Duration `default:"30s" envconfig:"READ_TIMEOUT"`
		WriteTimeout   time.Duration `default:"30s" envconfig:"WRITE_TIMEOUT"`
		AllowedOrigins []string      `default:"*" envconfig:"ALLOWED_ORIGINS"`
		// Empty list accepts any marketplace host.
		AllowedHosts []string `envconfig:"ALLOWED_HOSTS"`
	}

	Database struct {
		// Empty URL selects the in-process store.
		URL      string `envconfig:"DATABASE_URL"`
		MaxConns int    `default:"10" envconfig:"DB_MAX_CONNS"`
	}

	Fetch struct {
		UserAgents     []string      `envconfig:"USER_AGENTS"`
		ProxyList      []string      `envconfig:"PROXY_LIST"`
		RequestTimeout time.Duration `default:"15s" envconfig:"FETCH_REQUEST_TIMEOUT"`
		TotalTimeout   time.Duration `default:"45s" envconfig:"FETCH_TOTAL_TIMEOUT"`
		MaxRetries     int           `default:"2" envconfig:"FETCH_MAX_RETRIES"`
		BackoffBase    time.Duration `default:"1s" envconfig:"FETCH_BACKOFF_BASE"`
		ChoiceTTL      time.Duration `default:"10m" envconfig:"FETCH_CHOICE_TTL"`
		JSRender       bool          `default:"false" envconfig:"JS_RENDER_ENABLED"`
	}

	Pipeline struct {
		Workers          int           `default:"4" envconfig:"PIPELINE_WORKERS"`
		CrawlTimeout     time.Duration `default:"30s" envconfig:"PIPELINE_CRAWL_TIMEOUT"`
		ChecklistTimeout time.Duration `default:"5s" envconfig:"PIPELINE_CHECKLIST_TIMEOUT"`
	}
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if len(cfg.Fetch.UserAgents) == 0 {
		cfg.Fetch.UserAgents = DefaultUserAgents()
	}
	return &cfg, nil
}

// DefaultUserAgents is the built-in rotation used when USER_AGENTS is unset.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	}
}
