package common

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "native", cfg.OCR.TextBackend)
	assert.Equal(t, "spa", cfg.OCR.Lang)
	assert.Equal(t, 300, cfg.OCR.DPI)
	assert.Equal(t, 10*time.Second, cfg.Browser.WaitTimeout)
	assert.Equal(t, "Lector", cfg.Report.Prefix)
	assert.Empty(t, cfg.Store.Driver)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
browser:
  enabled: false
  wait_timeout: 20s
  cell_order: raw-text
report:
  prefix: Corrida
store:
  driver: sqlite
  dsn: runs.db
`), 0o644))

	t.Setenv("CSF_REPORT_PREFIX", "Env")
	t.Setenv("CSF_OCR_DPI", "200")
	t.Setenv("CSF_LOCAL_FALLBACK", "true")
	t.Setenv("CSF_WAIT_TIMEOUT", "not-a-duration")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.Browser.Enabled)
	assert.Equal(t, 20*time.Second, cfg.Browser.WaitTimeout, "unparseable env keeps the file value")
	assert.Equal(t, "raw-text", cfg.Browser.CellOrder)
	assert.Equal(t, "Env", cfg.Report.Prefix)
	assert.Equal(t, 200, cfg.OCR.DPI)
	assert.True(t, cfg.Browser.LocalFallback)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "spa", cfg.OCR.Lang, "defaults survive a partial file")
}

func TestLoadConfig_BadFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ocr: [unclosed"), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFIG_ERROR", appErr.Code)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":      func(c *Config) { c.OCR.TextBackend = "magic" },
		"dpi":          func(c *Config) { c.OCR.DPI = 0 },
		"wait timeout": func(c *Config) { c.Browser.WaitTimeout = 0 },
		"prefix":       func(c *Config) { c.Report.Prefix = " " },
		"store dsn":    func(c *Config) { c.Store.Driver = "postgres" },
		"store driver": func(c *Config) { c.Store.Driver, c.Store.DSN = "mysql", "x" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	cfg := DefaultConfig()
	cfg.Browser.Enabled = false
	cfg.Browser.WaitTimeout = 0
	assert.NoError(t, cfg.Validate(), "wait timeout only matters with remote lookups")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 200, HTTPStatus(nil))
	assert.Equal(t, 404, HTTPStatus(NewAppError("NOT_FOUND", "run", ErrNotFound)))
	assert.Equal(t, 400, HTTPStatus(WrapError(ErrValidation, "row")))
	assert.Equal(t, 401, HTTPStatus(ErrUnauthorized))
	assert.Equal(t, 503, HTTPStatus(ErrUnavailable))
	assert.Equal(t, 500, HTTPStatus(MalformedSource("open", os.ErrNotExist)))
	assert.ErrorIs(t, MalformedSource("open", os.ErrNotExist), os.ErrNotExist)
}

func TestSentinelWrappers_SingleLine(t *testing.T) {
	cause := errors.New("page crashed")
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"malformed", MalformedSource("open", cause), ErrMalformedSource},
		{"remote", RemoteUnavailable("navigate", cause), ErrRemoteUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotContains(t, tt.err.Error(), "\n")
			assert.Contains(t, tt.err.Error(), tt.sentinel.Error()+": page crashed")
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.ErrorIs(t, tt.err, cause)
		})
	}

	assert.ErrorIs(t, RemoteUnavailable("attach", nil), ErrRemoteUnavailable)
	assert.NotContains(t, RemoteUnavailable("attach", nil).Error(), "%!w")
}
