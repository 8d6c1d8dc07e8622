package checkpoint

import (
	"context"
	"fmt"
)

type Config struct {
	Type string `env:"FLCOORD_CHECKPOINT_TYPE" envDefault:"fs"`

	Dir string `env:"FLCOORD_CHECKPOINT_DIR" envDefault:"./data/checkpoints"`

	BadgerPath string `env:"FLCOORD_CHECKPOINT_BADGER_PATH" envDefault:"./data/checkpoints-badger"`

	S3Bucket       string `env:"FLCOORD_CHECKPOINT_S3_BUCKET"`
	S3Region       string `env:"FLCOORD_CHECKPOINT_S3_REGION"        envDefault:"us-east-1"`
	S3Endpoint     string `env:"FLCOORD_CHECKPOINT_S3_ENDPOINT"`
	S3Prefix       string `env:"FLCOORD_CHECKPOINT_S3_PREFIX"        envDefault:"checkpoints/"`
	S3AccessKey    string `env:"FLCOORD_CHECKPOINT_S3_ACCESS_KEY"`
	S3SecretKey    string `env:"FLCOORD_CHECKPOINT_S3_SECRET_KEY"`
	S3UsePathStyle bool   `env:"FLCOORD_CHECKPOINT_S3_PATH_STYLE"    envDefault:"false"`
}

func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "fs":
		return NewFSStore(cfg.Dir)
	case "badger":
		return NewBadgerStore(cfg.BadgerPath)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			Prefix:       cfg.S3Prefix,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", cfg.Type)
	}
}
