// Package testutil provides testing utilities for hearth
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// TestContext returns a RuntimeContext whose logger writes to the test log.
// otelzap.Ctx resolves to the same logger for the duration of the test.
func TestContext(t *testing.T) *hearth_io.RuntimeContext {
	t.Helper()

	log := zaptest.NewLogger(t)
	restore := otelzap.ReplaceGlobals(otelzap.New(log))
	t.Cleanup(restore)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, span := noop.NewTracerProvider().Tracer("test").Start(ctx, t.Name())
	return &hearth_io.RuntimeContext{
		Ctx:        ctx,
		Log:        log,
		Timestamp:  time.Now(),
		Span:       span,
		Command:    t.Name(),
		TraceID:    "test",
		Attributes: make(map[string]string),
	}
}

// ObserveLogs routes otelzap context loggers into memory at debug level for
// the duration of the test.
func ObserveLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(otelzap.ReplaceGlobals(otelzap.New(zap.New(core))))
	return logs
}
