package store

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config picks the gorm dialect. Driver "sqlite" (default) matches the
// original single-operator deployment; "postgres" targets a client/server
// SQL install, exactly the pairing the teacher's db_main.go and
// cmd/ohlcvcrypto's sqlite usage both individually exercise.
type Config struct {
	Driver        string `envconfig:"STORE_DRIVER" default:"sqlite"`
	DSN           string `envconfig:"STORE_DSN" default:"executor.db"`
	GormLogLevel  int    `envconfig:"STORE_GORM_LOG_LEVEL" default:"1"`
	MaxOpenConns  int    `envconfig:"STORE_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns  int    `envconfig:"STORE_MAX_IDLE_CONNS" default:"10"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return cfg
}
