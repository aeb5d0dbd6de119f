package logging

import (
	"testing"

	"github.com/hilthontt/parley/internal/infrastructure/configs"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_UnsupportedBackend(t *testing.T) {
	req := require.New(t)

	logger, err := NewLogger(configs.LoggerConfig{Logger: "logrus"})

	req.Error(err)
	req.Nil(logger)
}

func TestNewLogger_Backends(t *testing.T) {
	for _, backend := range []string{"zap", "zerolog"} {
		t.Run(backend, func(t *testing.T) {
			req := require.New(t)

			logger, err := NewLogger(configs.LoggerConfig{Logger: backend, Level: "error"})

			req.NoError(err)
			req.NotNil(logger)
			logger.Info(General, Startup, "not emitted below error level", nil)
		})
	}
}

func TestZapLogger_AddsCategoryFields(t *testing.T) {
	req := require.New(t)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZap(zap.New(core))

	logger.Warn(WebSocket, Handshake, "handshake rejected", map[ExtraKey]any{
		Reason: "chat not found",
		ChatID: int64(7),
	})

	entries := logs.All()
	req.Len(entries, 1)
	fields := entries[0].ContextMap()
	req.Equal("handshake rejected", entries[0].Message)
	req.Equal(string(WebSocket), fields["Category"])
	req.Equal(string(Handshake), fields["SubCategory"])
	req.Equal("chat not found", fields[string(Reason)])
	req.Equal(int64(7), fields[string(ChatID)])
}

func TestLogParamsToZapParams(t *testing.T) {
	req := require.New(t)

	params := logParamsToZapParams(map[ExtraKey]any{Path: "/chats", StatusCode: 200})

	req.Len(params, 4)
}
