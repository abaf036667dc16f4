package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"tilemove.ai/internal/persistence/mirror"
)

// openMirror returns nil unless TM_MIRROR is true.
func openMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	if !envBool("TM_MIRROR", false) {
		return nil, nil
	}
	cfg := mirror.S3Config{
		Endpoint:        os.Getenv("TM_MIRROR_ENDPOINT"),
		Bucket:          os.Getenv("TM_MIRROR_BUCKET"),
		Region:          os.Getenv("TM_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("TM_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("TM_MIRROR_SECRET_ACCESS_KEY"),
	}
	client, err := mirror.NewS3Client(cfg)
	if err != nil {
		return nil, fmt.Errorf("TM_MIRROR=true: %w", err)
	}
	opts := mirror.Options{Workers: envInt("TM_MIRROR_WORKERS", 2)}
	return mirror.New(client, dataDir, strings.TrimSpace(os.Getenv("TM_MIRROR_PREFIX")), opts, logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
