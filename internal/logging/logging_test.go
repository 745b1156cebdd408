package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/OpsMx/cybersource-auth-client/internal/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		t.Setenv(logging.LevelEnv, "")
		require.Equal(t, zerolog.InfoLevel, logging.New(&bytes.Buffer{}).GetLevel())
	})

	t.Run("Unknown", func(t *testing.T) {
		t.Setenv(logging.LevelEnv, "chatty")
		require.Equal(t, zerolog.InfoLevel, logging.New(&bytes.Buffer{}).GetLevel())
	})

	t.Run("Debug", func(t *testing.T) {
		t.Setenv(logging.LevelEnv, "DEBUG")
		var b bytes.Buffer
		logger := logging.New(&b)
		require.Equal(t, zerolog.DebugLevel, logger.GetLevel())

		logger.Debug().Str("kid", "K1").Msg("Fetched public key")
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(b.Bytes(), &line))
		require.Equal(t, "K1", line["kid"])
		require.Equal(t, "cybersource-auth-client", line["component"])
		require.Equal(t, "Fetched public key", line["message"])
	})
}
