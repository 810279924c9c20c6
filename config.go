package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type config struct {
	Host          string        `env:"HOST"`
	Port          string        `env:"PORT" envDefault:"8081"`
	GithubToken   string        `env:"GITHUB_OAUTH_KEY,required,notEmpty"`
	EventsURL     string        `env:"GITHUB_EVENTS_URL" envDefault:"https://api.github.com/events"`
	EventsPerPage int           `env:"EVENTS_COUNT" envDefault:"5"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	PingPeriod    time.Duration `env:"PING_PERIOD" envDefault:"27s"`
	Origin        string        `env:"ORIGIN"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"LOG_FORMAT" envDefault:"text"`
	MetricsTick   time.Duration `env:"METRICS_TICK" envDefault:"60s"`
	StopTimeout   time.Duration `env:"STOP_TIMEOUT" envDefault:"10s"`
	KillTimeout   time.Duration `env:"KILL_TIMEOUT" envDefault:"1s"`

	// Addr is HOST:PORT unless overridden by -addr.
	Addr string
}

// loadConfig reads .env (if present), then the environment, then flags.
// environ replaces the process environment when non-nil.
func loadConfig(args []string, environ map[string]string) (*config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &config{}
	var err error
	if environ != nil {
		err = env.ParseWithOptions(cfg, env.Options{Environment: environ})
	} else {
		err = env.Parse(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Addr = net.JoinHostPort(cfg.Host, cfg.Port)

	flags := flag.NewFlagSet("ghrelay", flag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "http service address")
	flags.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "time between polls of the events API")
	flags.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "stop timeout")
	flags.DurationVar(&cfg.KillTimeout, "kill-timeout", cfg.KillTimeout, "kill timeout")
	flags.DurationVar(&cfg.MetricsTick, "metrics.tick", cfg.MetricsTick, "metrics: duration between reports")
	flags.StringVar(&cfg.Origin, "origin", cfg.Origin, "websocket server checks Origin headers against this scheme://host[:port]")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping period must be positive, got %v", c.PingPeriod)
	}
	if c.EventsPerPage < 1 || c.EventsPerPage > 100 {
		return fmt.Errorf("EVENTS_COUNT must be 1-100, got %d", c.EventsPerPage)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func setupLogging(c *config) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
