// pkg/hearth_cli/signals.go
//
// Signal handling for provisioning runs. The first SIGINT/SIGTERM cancels the
// run context so in-flight commands stop at their next context check and the
// state machine records the interruption; a second signal exits immediately.

package hearth_cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// SignalHandler cancels a context on the first interrupt.
type SignalHandler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
	done    chan struct{}
	once    sync.Once
	exit    func(int)
}

// NewSignalHandler creates a handler listening for SIGINT and SIGTERM.
func NewSignalHandler(ctx context.Context) *SignalHandler {
	h := newSignalHandler(ctx, os.Exit)
	signal.Notify(h.sigChan, os.Interrupt, syscall.SIGTERM)
	go h.handleSignals()
	return h
}

func newSignalHandler(ctx context.Context, exit func(int)) *SignalHandler {
	ctx, cancel := context.WithCancel(ctx)
	return &SignalHandler{
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 2),
		done:    make(chan struct{}),
		exit:    exit,
	}
}

// Context returns the cancellable context operations should observe.
func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

func (h *SignalHandler) handleSignals() {
	logger := otelzap.Ctx(h.ctx)

	select {
	case sig := <-h.sigChan:
		logger.Warn("Received signal, cancelling run", zap.String("signal", sig.String()))
		fmt.Fprintf(os.Stderr, "\n⚠️  Received %v, stopping after the current step...\n", sig)
		h.cancel()
	case <-h.done:
		return
	}

	select {
	case sig := <-h.sigChan:
		logger.Error("Received second signal, forcing exit", zap.String("signal", sig.String()))
		fmt.Fprintln(os.Stderr, "⚠️  Received second interrupt, forcing exit!")
		h.exit(130)
	case <-h.done:
	}
}

// Stop releases the signal subscription and the context.
func (h *SignalHandler) Stop() {
	h.once.Do(func() {
		signal.Stop(h.sigChan)
		close(h.done)
		h.cancel()
	})
}
