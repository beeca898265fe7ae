package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Host     string `env:"STELA_HOST,default=0.0.0.0"`
	Port     int    `env:"STELA_PORT,default=8282"`
	HTTPPort string `env:"STELA_HTTP_PORT,default=8181"`

	MaxConns     int           `env:"STELA_MAX_CONNECTIONS,default=1024"`
	ReadTimeout  time.Duration `env:"STELA_READ_TIMEOUT,default=30s"`
	MaxLineBytes int           `env:"STELA_MAX_LINE_BYTES,default=1024"`

	// AckWithSequence makes commits acknowledge with `:<seq>` instead
	// of `+OK`.
	AckWithSequence bool `env:"STELA_ACK_SEQUENCE"`

	// KeepAliveOnError keeps sessions open after a protocol error has
	// been reported. The default policy closes them.
	KeepAliveOnError bool `env:"STELA_KEEP_ALIVE_ON_ERROR"`

	// SnapshotPath, when set, is where the store snapshot is restored
	// from on start and written to on shutdown.
	SnapshotPath string `env:"STELA_SNAPSHOT_PATH"`

	DebugHTTP bool `env:"STELA_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
