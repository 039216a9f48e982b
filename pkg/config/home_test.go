package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveHome(t *testing.T) {
	fail := func() (string, error) { return "", errors.New("unavailable") }
	dir := func(d string) func() (string, error) {
		return func() (string, error) { return d, nil }
	}

	tests := []struct {
		name    string
		env     string
		userDir func() (string, error)
		cwd     func() (string, error)
		want    string
	}{
		{"env wins", "/custom", dir("/home/u/.config"), dir("/work"), "/custom"},
		{"user config dir", "", dir("/home/u/.config"), dir("/work"), filepath.Join("/home/u/.config", "uiagent")},
		{"working dir", "", fail, dir("/work"), "/work"},
		{"nothing", "", fail, fail, "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveHome(tt.env, tt.userDir, tt.cwd))
		})
	}
}

func TestGetHome_Cached(t *testing.T) {
	ResetHome()
	t.Cleanup(ResetHome)
	t.Setenv(EnvHome, "/first")
	first := GetHome()

	t.Setenv(EnvHome, "/second")
	assert.Equal(t, first, GetHome())
	assert.Equal(t, filepath.Join("/first", "reports", "r.html"), HomePath("reports", "r.html"))
}
