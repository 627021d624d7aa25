package archive

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config controls the periodic Parquet exporter (SPEC_FULL.md §2).
type Config struct {
	DataDir       string        `envconfig:"ARCHIVE_DATA_DIR" default:"./archive"`
	Retention     time.Duration `envconfig:"ARCHIVE_RETENTION" default:"720h"`
	ExportPeriod  time.Duration `envconfig:"ARCHIVE_EXPORT_PERIOD" default:"1h"`
	BatchSize     int           `envconfig:"ARCHIVE_BATCH_SIZE" default:"5000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
