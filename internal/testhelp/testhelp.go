// Package testhelp carries shared test fixtures: a quiet structured logger
// and a Settings builder over a per-test temp directory.
package testhelp

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marekvnovak/tlvcache/config"
)

// Logger returns a JSON slog writing to io.Discard so tests stay quiet.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Settings builds validated Settings over t.TempDir().
func Settings(t *testing.T, strategy config.Strategy, memMax int, fsMax int64, fsFiles int) *config.Settings {
	t.Helper()
	s, err := config.New(strategy, memMax, fsMax, fsFiles, t.TempDir())
	require.NoError(t, err)
	return s
}
