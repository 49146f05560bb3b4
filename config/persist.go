package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/clipforge/clipforge/errors"
)

// backupGenerations is how many rotated copies of the config file we keep.
const backupGenerations = 3

// Save writes the configuration to the given path as TOML, rotating backups
// of any existing file first. When a watcher is supplied its next event is
// suppressed so the process does not reload its own write.
func Save(cfg *Config, path string, watcher *Watcher) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create config directory for %s", path)
	}

	if _, err := os.Stat(path); err == nil {
		if err := rotateBackups(path); err != nil {
			return err
		}
	}

	if watcher != nil {
		watcher.MarkOwnWrite()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp config file")
	}
	tmpPath := tmp.Name()

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to encode config")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to close temp config file")
	}
	if err := os.Chmod(tmpPath, DefaultFilePermissions); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to set config file permissions")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to write config file %s", path)
	}
	return nil
}

// rotateBackups shifts path.back1 -> .back2 -> .back3 and copies the current
// file to .back1. The oldest generation falls off.
func rotateBackups(path string) error {
	for i := backupGenerations - 1; i >= 1; i-- {
		src := backupPath(path, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, backupPath(path, i+1)); err != nil {
			return errors.Wrapf(err, "failed to rotate config backup %s", src)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s for backup", path)
	}
	if err := os.WriteFile(backupPath(path, 1), data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config backup")
	}
	return nil
}

func backupPath(path string, generation int) string {
	return fmt.Sprintf("%s.back%d", path, generation)
}
