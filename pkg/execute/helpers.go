// pkg/execute/helpers.go

package execute

import (
	"strings"
	"time"
)

func defaultTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return DefaultTimeout
}

func buildCommandString(command string, args ...string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}

// RedactedValue replaces every Options.Redact value in rendered commands.
const RedactedValue = "[REDACTED]"

// CommandString renders opts the way they appear in logs, with Redact values
// masked.
func CommandString(opts Options) string {
	return buildCommandString(opts.Command, redactArgs(opts.Args, opts.Redact)...)
}

func redactArgs(args, secrets []string) []string {
	if len(secrets) == 0 {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		for _, s := range secrets {
			if s != "" {
				a = strings.ReplaceAll(a, s, RedactedValue)
			}
		}
		out[i] = a
	}
	return out
}
