package testutil

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	cerr "github.com/cockroachdb/errors"
)

// Handler answers a fake command invocation.
type Handler func(opts execute.Options) (string, error)

// FakeRunner implements execute.Runner, recording every invocation. Handlers
// are matched by the longest registered prefix of "command arg1 arg2 ...".
// Unmatched commands succeed with empty output.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	paths    map[string]string
	calls    []execute.Options
}

// NewFakeRunner returns an empty fake.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		handlers: make(map[string]Handler),
		paths:    make(map[string]string),
	}
}

// On registers h for commands starting with prefix.
func (f *FakeRunner) On(prefix string, h Handler) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[prefix] = h
	return f
}

// Output registers a fixed successful output.
func (f *FakeRunner) Output(prefix, out string) *FakeRunner {
	return f.On(prefix, func(execute.Options) (string, error) { return out, nil })
}

// Fail registers a fixed failure.
func (f *FakeRunner) Fail(prefix, out string) *FakeRunner {
	return f.On(prefix, func(execute.Options) (string, error) {
		return out, cerr.Newf("exit status 1: %s", prefix)
	})
}

// Binary makes LookPath resolve name.
func (f *FakeRunner) Binary(name, path string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[name] = path
	return f
}

// Run implements execute.Runner.
func (f *FakeRunner) Run(ctx context.Context, opts execute.Options) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	var (
		best    Handler
		bestLen = -1
	)
	line := execute.CommandString(opts)
	for prefix, h := range f.handlers {
		if strings.HasPrefix(line, prefix) && len(prefix) > bestLen {
			best, bestLen = h, len(prefix)
		}
	}
	f.mu.Unlock()

	if opts.DryRun {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if best == nil {
		return "", nil
	}
	out, err := best(opts)
	if !opts.Capture && err == nil {
		return "", nil
	}
	return out, err
}

// LookPath implements execute.Runner.
func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.paths[name]; ok {
		return p, nil
	}
	return "", cerr.Wrapf(exec.ErrNotFound, "%s not found", name)
}

// Calls returns every recorded invocation as a command line.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = execute.CommandString(c)
	}
	return out
}

// Invocations returns the recorded options.
func (f *FakeRunner) Invocations() []execute.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execute.Options(nil), f.calls...)
}

// Count returns how many recorded command lines start with prefix.
func (f *FakeRunner) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
