package config

import (
	"os"
	"path/filepath"
	"sync"
)

// EnvHome overrides the data directory.
const EnvHome = "UIAGENT_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the directory holding uiagent.yaml, artifacts and reports:
// $UIAGENT_HOME, else <user config dir>/uiagent, else the working directory.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome(os.Getenv(EnvHome), os.UserConfigDir, os.Getwd)
	})
	return homeDir
}

// HomePath joins elem onto the home directory.
func HomePath(elem ...string) string {
	return filepath.Join(append([]string{GetHome()}, elem...)...)
}

func resolveHome(env string, userDir, cwd func() (string, error)) string {
	if env != "" {
		return env
	}
	if dir, err := userDir(); err == nil && dir != "" {
		return filepath.Join(dir, "uiagent")
	}
	if dir, err := cwd(); err == nil {
		return dir
	}
	return "."
}

// ResetHome clears the cached home directory. Tests only.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
