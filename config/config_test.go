package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance without user/system config files.
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Database.Path != "clipforge.db" {
		t.Errorf("expected default database path 'clipforge.db', got %q", cfg.Database.Path)
	}
	if cfg.Storage.Root != "data/blobs" {
		t.Errorf("expected default storage root 'data/blobs', got %q", cfg.Storage.Root)
	}
	if cfg.Worker.Slots != 0 {
		t.Errorf("expected default slots 0 (auto), got %d", cfg.Worker.Slots)
	}
	if cfg.Worker.HeartbeatSeconds != 30 {
		t.Errorf("expected default heartbeat 30, got %d", cfg.Worker.HeartbeatSeconds)
	}
	if cfg.Worker.StaleAfterSeconds != 900 {
		t.Errorf("expected default stale_after 900, got %d", cfg.Worker.StaleAfterSeconds)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "zero worker values are valid (use defaults)",
			config:  Config{},
			wantErr: false,
		},
		{
			name: "negative slots is invalid",
			config: Config{
				Worker: WorkerConfig{Slots: -1},
			},
			wantErr: true,
		},
		{
			name: "stale threshold under three heartbeats is invalid",
			config: Config{
				Worker: WorkerConfig{HeartbeatSeconds: 30, StaleAfterSeconds: 60},
			},
			wantErr: true,
		},
		{
			name: "stale threshold at three heartbeats is valid",
			config: Config{
				Worker: WorkerConfig{HeartbeatSeconds: 30, StaleAfterSeconds: 90},
			},
			wantErr: false,
		},
		{
			name: "idle poll max below min is invalid",
			config: Config{
				Worker: WorkerConfig{IdlePollMinMs: 500, IdlePollMaxMs: 100},
			},
			wantErr: true,
		},
		{
			name: "negative drain timeout is invalid",
			config: Config{
				Worker: WorkerConfig{DrainTimeoutSeconds: -1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	content := `
[database]
path = "/var/lib/clipforge/clipforge.db"

[worker]
slots = 4
heartbeat_seconds = 10
stale_after_seconds = 60
`
	if err := os.WriteFile(path, []byte(content), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if cfg.Database.Path != "/var/lib/clipforge/clipforge.db" {
		t.Errorf("database path not applied, got %q", cfg.Database.Path)
	}
	if cfg.Worker.Slots != 4 {
		t.Errorf("expected slots 4, got %d", cfg.Worker.Slots)
	}
	// Defaults fill the keys the file omits.
	if cfg.Worker.IdlePollMaxMs != 5000 {
		t.Errorf("expected default idle_poll_max_ms 5000, got %d", cfg.Worker.IdlePollMaxMs)
	}
}

func TestLoadFromFile_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	content := `
[worker]
heartbeat_seconds = 30
stale_after_seconds = 45
`
	if err := os.WriteFile(path, []byte(content), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected validation error for stale_after under three heartbeats")
	}
}

func TestEnvOverride(t *testing.T) {
	Reset()
	defer Reset()
	t.Setenv("CLIPFORGE_WORKER_SLOTS", "6")
	t.Setenv("CLIPFORGE_DATABASE_PATH", filepath.Join(t.TempDir(), "env.db"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Worker.Slots != 6 {
		t.Errorf("expected slots 6 from environment, got %d", cfg.Worker.Slots)
	}
	if filepath.Base(cfg.Database.Path) != "env.db" {
		t.Errorf("expected database path from environment, got %q", cfg.Database.Path)
	}
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("found in parent directory", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test1", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)
		os.WriteFile(filepath.Join(tmpDir, "test1", ConfigFileName), []byte(""), DefaultFilePermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Fatal("expected to find config file")
		}
		if filepath.Base(result) != ConfigFileName {
			t.Errorf("expected %s, got %s", ConfigFileName, filepath.Base(result))
		}
	})

	t.Run("no config found", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test2", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := &Config{}
	cfg.Database.Path = "trip.db"
	cfg.Worker.Slots = 2
	cfg.Worker.HeartbeatSeconds = 15
	cfg.Worker.StaleAfterSeconds = 45

	if err := Save(cfg, path, nil); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if loaded.Database.Path != "trip.db" {
		t.Errorf("expected database path 'trip.db', got %q", loaded.Database.Path)
	}
	if loaded.Worker.Slots != 2 {
		t.Errorf("expected slots 2, got %d", loaded.Worker.Slots)
	}
}

func TestSave_RotatesBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	for i := 1; i <= 4; i++ {
		cfg := &Config{}
		cfg.Database.Path = fmt.Sprintf("gen%d.db", i)
		if err := Save(cfg, path, nil); err != nil {
			t.Fatalf("Save() #%d failed: %v", i, err)
		}
	}

	// Backups hold the three previous generations, newest first.
	for gen, want := range map[int]string{1: "gen3.db", 2: "gen2.db", 3: "gen1.db"} {
		backup, err := LoadFromFile(backupPath(path, gen))
		if err != nil {
			t.Fatalf("reading backup %d failed: %v", gen, err)
		}
		if backup.Database.Path != want {
			t.Errorf("backup %d: expected %q, got %q", gen, want, backup.Database.Path)
		}
	}
	if _, err := os.Stat(backupPath(path, 4)); !os.IsNotExist(err) {
		t.Error("expected at most three backup generations")
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	cfg := &Config{}
	cfg.Worker.Slots = -1
	if err := Save(cfg, filepath.Join(t.TempDir(), ConfigFileName), nil); err == nil {
		t.Error("expected validation error")
	}
}

func TestIsBackupFile(t *testing.T) {
	if !isBackupFile("/etc/clipforge/clipforge.toml.back1") {
		t.Error("expected backup file to be recognized")
	}
	if isBackupFile("/etc/clipforge/clipforge.toml") {
		t.Error("config file misidentified as backup")
	}
}

func TestWatcher_IgnoresOwnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(""), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Stop()

	w.MarkOwnWrite()
	if !w.checkOwnWrite() {
		t.Error("expected own-write flag to be set")
	}
	if w.checkOwnWrite() {
		t.Error("expected own-write flag to clear after one check")
	}
}

func TestWatcher_ReloadCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte("[worker]\nslots = 1\n"), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	// The reload path re-reads the merged global config, which picks up the
	// project file found by walking up from the working directory.
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(dir)
	Reset()
	defer Reset()

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	w.Start()

	if err := os.WriteFile(path, []byte("[worker]\nslots = 3\n"), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Worker.Slots != 3 {
			t.Errorf("expected reloaded slots 3, got %d", cfg.Worker.Slots)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
