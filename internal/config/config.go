// Package config содержит логику чтения конфигурации сервиса sponsorlink.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/sponsorlink-system/internal/model"
)

// Config содержит параметры конфигурации сервиса sponsorlink.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisURI    string `env:"REDIS_URI"`

	GitHubURL    string `env:"GITHUB_URL" envDefault:"https://github.com"`
	GitHubAPIURL string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`

	SponsorClientID         string `env:"SPONSOR_CLIENT_ID"`
	SponsorClientSecret     string `env:"SPONSOR_CLIENT_SECRET"`
	SponsorableClientID     string `env:"SPONSORABLE_CLIENT_ID"`
	SponsorableClientSecret string `env:"SPONSORABLE_CLIENT_SECRET"`

	SponsorAppID      string `env:"SPONSOR_APP_ID"`
	SponsorAppKey     string `env:"SPONSOR_APP_KEY"`
	SponsorableAppID  string `env:"SPONSORABLE_APP_ID"`
	SponsorableAppKey string `env:"SPONSORABLE_APP_KEY"`

	WebhookSecret   string `env:"WEBHOOK_SECRET"`
	AuthRedirectURL string `env:"AUTH_REDIRECT_URL" envDefault:"https://example.com"`

	OperatorID    string `env:"OPERATOR_ID"`
	OperatorLogin string `env:"OPERATOR_LOGIN"`

	// AccountAliases содержит записи вида "aliasId:targetId/targetLogin":
	// членство в организации aliasId дополнительно учитывается как членство
	// в организации targetId.
	AccountAliases []string `env:"ACCOUNT_ALIASES" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisURI := cfg.RedisURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisURI, "r", "", "redis URI for events and registry")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisURI != "" {
		cfg.RedisURI = envRedisURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

// Operator возвращает аккаунт оператора платформы.
func (c *Config) Operator() model.AccountID {
	return model.AccountID{ID: c.OperatorID, Login: c.OperatorLogin}
}

// AliasMap разбирает AccountAliases в таблицу псевдонимов аккаунтов.
func (c *Config) AliasMap() (map[string]model.AccountID, error) {
	aliases := make(map[string]model.AccountID, len(c.AccountAliases))

	for _, entry := range c.AccountAliases {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		// Идентификаторы аккаунтов могут содержать "=" и "/", поэтому
		// разделитель псевдонима — двоеточие, а логин отделяется последним слэшем.
		aliasID, target, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid account alias %q", entry)
		}

		slash := strings.LastIndex(target, "/")
		if slash < 0 || aliasID == "" {
			return nil, fmt.Errorf("invalid account alias %q", entry)
		}

		targetID, targetLogin := target[:slash], target[slash+1:]
		if targetID == "" || targetLogin == "" {
			return nil, fmt.Errorf("invalid account alias %q", entry)
		}

		aliases[aliasID] = model.AccountID{ID: targetID, Login: targetLogin}
	}

	return aliases, nil
}
