// Package config loads the ClipForge configuration: TOML files merged with
// CLIPFORGE_-prefixed environment variables, with hot reload for worker
// tunables.
package config

// Config is the process configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Transcribe TranscribeConfig `mapstructure:"transcribe"`
	Publish    PublishConfig    `mapstructure:"publish"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig configures the local blob store and scratch space.
type StorageConfig struct {
	Root     string `mapstructure:"root"`      // bucket tree root
	TempRoot string `mapstructure:"temp_root"` // per-job scratch dirs
}

// WorkerConfig tunes the worker pool. Slots 0 means auto (CPU-based).
type WorkerConfig struct {
	Slots                   int `mapstructure:"slots"`
	HeartbeatSeconds        int `mapstructure:"heartbeat_seconds"`
	RecoveryIntervalSeconds int `mapstructure:"recovery_interval_seconds"`
	StaleAfterSeconds       int `mapstructure:"stale_after_seconds"`
	DrainTimeoutSeconds     int `mapstructure:"drain_timeout_seconds"`
	IdlePollMinMs           int `mapstructure:"idle_poll_min_ms"`
	IdlePollMaxMs           int `mapstructure:"idle_poll_max_ms"`
}

// TranscribeConfig names the external speech-to-text command. The command
// receives a media path as its final argument and must write sibling .srt
// and .json artifacts.
type TranscribeConfig struct {
	Command        string `mapstructure:"command"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PublishConfig carries platform app credentials for token refresh.
type PublishConfig struct {
	TikTok  TikTokConfig  `mapstructure:"tiktok"`
	YouTube YouTubeConfig `mapstructure:"youtube"`
}

// TikTokConfig holds the content-posting app credentials.
type TikTokConfig struct {
	ClientKey    string `mapstructure:"client_key"`
	ClientSecret string `mapstructure:"client_secret"`
}

// YouTubeConfig holds the Data API OAuth app credentials.
type YouTubeConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// File system permissions used for config artifacts.
const (
	DefaultDirPermissions  = 0o755
	DefaultFilePermissions = 0o644
)
