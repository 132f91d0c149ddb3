// Package config loads the worker's process-wide configuration from the
// environment, the same ad hoc way internal/logging reads its own settings.
package config

import (
	"os"
	"strconv"
	"time"
)

// Worker holds process-wide configuration, passed explicitly at
// construction time rather than read ambiently from globals deep inside
// the call graph.
type Worker struct {
	// ResourceUploadEnabled gates ResourceStager.PlanDownloads: when false,
	// any plan requiring a download fails fast with ErrStorageNotConfigured.
	ResourceUploadEnabled bool
	// DevelopMode suppresses WorkDirectory cleanup.
	DevelopMode bool
	// SystemEnvPath is injected into every ExecutionContext as EnvFile.
	SystemEnvPath string

	// Slots is the number of concurrent WorkerPool executor goroutines.
	Slots int

	MasterAddress string
	AlertURL      string
	NATSURL       string

	S3Bucket string
	S3Region string

	HistoryDBPath string
	// HistoryRetention bounds how long a completed task's enrichment
	// record is kept before the maintenance job prunes it.
	HistoryRetention time.Duration
}

// FromEnv builds a Worker config from SWARM_WORKER_* environment variables,
// applying sane defaults for anything unset.
func FromEnv() Worker {
	return Worker{
		ResourceUploadEnabled: envBool("SWARM_WORKER_RESOURCE_UPLOAD_ENABLED", true),
		DevelopMode:           envBool("SWARM_WORKER_DEVELOP_MODE", false),
		SystemEnvPath:         envString("SWARM_WORKER_SYSTEM_ENV_PATH", "/etc/profile"),
		Slots:                 envInt("SWARM_WORKER_SLOTS", 4),
		MasterAddress:         envString("SWARM_WORKER_MASTER_ADDRESS", "master:5678"),
		AlertURL:               envString("SWARM_WORKER_ALERT_URL", "http://alert-service:8080"),
		NATSURL:               envString("SWARM_WORKER_NATS_URL", "nats://127.0.0.1:4222"),
		S3Bucket:              envString("SWARM_WORKER_S3_BUCKET", "swarm-worker-resources"),
		S3Region:              envString("SWARM_WORKER_S3_REGION", "us-east-1"),
		HistoryDBPath:         envString("SWARM_WORKER_HISTORY_DB_PATH", "./worker-history.db"),
		HistoryRetention:      envDuration("SWARM_WORKER_HISTORY_RETENTION", 72*time.Hour),
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
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
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
