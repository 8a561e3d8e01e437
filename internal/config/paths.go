package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName        = "pa6"
	configFileName = "config.toml"
	platformDarwin = "darwin"
	platformLinux  = "linux"
)

// DefaultConfigDir returns the directory holding config.toml:
// $XDG_CONFIG_HOME/pa6 on Linux, ~/Library/Application Support/pa6 on macOS
// and ~/.config/pa6 elsewhere.
func DefaultConfigDir() string {
	return userDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the directory holding upload journals.
// macOS keeps config and data together.
func DefaultDataDir() string {
	return userDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func userDir(xdgVar, homeRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return platformDir(runtime.GOOS, home, os.Getenv(xdgVar), homeRel)
}

func platformDir(goos, home, xdg, homeRel string) string {
	switch {
	case goos == platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	case goos == platformLinux && xdg != "":
		return filepath.Join(xdg, appName)
	default:
		return filepath.Join(home, homeRel, appName)
	}
}

// DefaultConfigPath returns the config file used when neither --config nor
// PA6_CONFIG is set.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// JournalPath returns the upload journal database of a profile:
// {dataDir}/journal/{profile}.db
func JournalPath(profileName string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "journal", profileName+".db")
}
