package bus

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config configures the non-durable fast-path fan-out described in
// SPEC_FULL.md §2. RedisAddr empty means in-process only.
type Config struct {
	LocalBuffer   int    `envconfig:"BUS_LOCAL_BUFFER" default:"256"`
	RedisAddr     string `envconfig:"BUS_REDIS_ADDR"`
	RedisPassword string `envconfig:"BUS_REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"BUS_REDIS_DB" default:"0"`
	Channel       string `envconfig:"BUS_REDIS_CHANNEL" default:"executor:item_fills"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
