package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for every option.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "clipforge.db")

	v.SetDefault("storage.root", "data/blobs")
	v.SetDefault("storage.temp_root", filepath.Join(os.TempDir(), "clipforge"))

	// Worker defaults. Slots 0 = auto-size from CPU count. The stale
	// threshold must stay at least three heartbeats.
	v.SetDefault("worker.slots", 0)
	v.SetDefault("worker.heartbeat_seconds", 30)
	v.SetDefault("worker.recovery_interval_seconds", 300)
	v.SetDefault("worker.stale_after_seconds", 900)
	v.SetDefault("worker.drain_timeout_seconds", 30)
	v.SetDefault("worker.idle_poll_min_ms", 200)
	v.SetDefault("worker.idle_poll_max_ms", 5000)

	// No default engine: transcription is operator-supplied.
	v.SetDefault("transcribe.command", "")
	v.SetDefault("transcribe.timeout_seconds", 600)
}

// BindSensitiveEnvVars explicitly binds credentials to environment
// variables so they never need to live in a file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "CLIPFORGE_DATABASE_PATH")
	v.BindEnv("storage.root", "CLIPFORGE_STORAGE_ROOT")

	v.BindEnv("publish.tiktok.client_key", "CLIPFORGE_PUBLISH_TIKTOK_CLIENT_KEY")
	v.BindEnv("publish.tiktok.client_secret", "CLIPFORGE_PUBLISH_TIKTOK_CLIENT_SECRET")
	v.BindEnv("publish.youtube.client_id", "CLIPFORGE_PUBLISH_YOUTUBE_CLIENT_ID")
	v.BindEnv("publish.youtube.client_secret", "CLIPFORGE_PUBLISH_YOUTUBE_CLIENT_SECRET")
}
