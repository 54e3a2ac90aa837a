package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewHonoursLevel(t *testing.T) {
	log, err := New("warn")
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.Core().Enabled(zapcore.ErrorLevel))

	log, err = New("")
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud")
	require.Error(t, err)
}

func TestNamedToleratesNil(t *testing.T) {
	require.NotNil(t, Named(nil, "stock"))
}
