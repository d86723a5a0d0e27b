// Package config parses service configuration from the environment. Every
// knob has an envDefault so a bare docker-compose environment boots without
// a config file.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into cfg using its `env` struct tags.
//
// Example:
//
//	type Config struct {
//	    HTTPPort     int    `env:"HTTP_PORT" envDefault:"8010"`
//	    KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
