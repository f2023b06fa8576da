// pkg/hearth_err/classification.go
//
// Provisioning error taxonomy. Every error raised by a phase carries its kind,
// the phase it belongs to, the subject it is about (package names, service,
// path) and the exit code the CLI should terminate with.

package hearth_err

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies provisioning failures.
type Kind int

const (
	KindInsufficientPrivilege Kind = iota
	KindInsufficientResources
	KindUnsupportedArchitecture
	KindPackageInstall
	KindConfigWrite
	KindEngineUnavailable
	KindOrchestration
	KindVerificationTimeout
)

// Exit codes returned by the hearth binary.
const (
	ExitOK            = 0
	ExitPrecondition  = 1
	ExitPackages      = 2
	ExitOrchestration = 3
	ExitConfiguration = 4
)

// Phase names as they appear in logs and the final report.
const (
	PhaseChecking      = "checking"
	PhaseInstalling    = "installing"
	PhaseConfiguring   = "configuring"
	PhaseOrchestrating = "orchestrating"
	PhaseVerifying     = "verifying"
)

func (k Kind) String() string {
	switch k {
	case KindInsufficientPrivilege:
		return "InsufficientPrivilege"
	case KindInsufficientResources:
		return "InsufficientResources"
	case KindUnsupportedArchitecture:
		return "UnsupportedArchitecture"
	case KindPackageInstall:
		return "PackageInstallError"
	case KindConfigWrite:
		return "ConfigWriteError"
	case KindEngineUnavailable:
		return "EngineUnavailable"
	case KindOrchestration:
		return "OrchestrationError"
	case KindVerificationTimeout:
		return "VerificationTimeout"
	default:
		return "Unknown"
	}
}

// Phase returns the run phase an error of this kind is raised in.
func (k Kind) Phase() string {
	switch k {
	case KindInsufficientPrivilege, KindInsufficientResources, KindUnsupportedArchitecture:
		return PhaseChecking
	case KindPackageInstall:
		return PhaseInstalling
	case KindConfigWrite:
		return PhaseConfiguring
	case KindEngineUnavailable, KindOrchestration:
		return PhaseOrchestrating
	default:
		return PhaseVerifying
	}
}

// Fatal reports whether an error of this kind aborts the run.
func (k Kind) Fatal() bool {
	return k != KindUnsupportedArchitecture && k != KindVerificationTimeout
}

// ExitCode returns the process exit code for a fatal error of this kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindInsufficientPrivilege, KindInsufficientResources:
		return ExitPrecondition
	case KindPackageInstall:
		return ExitPackages
	case KindConfigWrite:
		return ExitConfiguration
	case KindEngineUnavailable, KindOrchestration:
		return ExitOrchestration
	default:
		return ExitOK
	}
}

// ProvisionError wraps a failure with its kind, subject and remediation.
type ProvisionError struct {
	Kind        Kind
	Subject     string
	Message     string
	Cause       error
	Remediation []string
}

// Error implements the error interface
func (e *ProvisionError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Kind.String())
	if e.Subject != "" {
		sb.WriteString(fmt.Sprintf("{%s}", e.Subject))
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error
func (e *ProvisionError) Unwrap() error {
	return e.Cause
}

// Phase is the run phase the error was raised in.
func (e *ProvisionError) Phase() string {
	return e.Kind.Phase()
}

// ExitCode returns the appropriate exit code for this error
func (e *ProvisionError) ExitCode() int {
	return e.Kind.ExitCode()
}

// Describe renders the multi-line, user-facing description printed on failure.
func (e *ProvisionError) Describe() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Phase %q failed: %s", e.Phase(), e.Error()))
	if len(e.Remediation) > 0 {
		sb.WriteString("\n\nHow to fix:")
		for i, step := range e.Remediation {
			sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, step))
		}
	}
	return sb.String()
}

// AsProvisionError extracts a ProvisionError from an error chain.
func AsProvisionError(err error) (*ProvisionError, bool) {
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsKind reports whether any error in the chain is a ProvisionError of kind k.
func IsKind(err error, k Kind) bool {
	pe, ok := AsProvisionError(err)
	return ok && pe.Kind == k
}

// GetExitCode extracts exit code from any error
// Returns 0 for nil, the kind's code for provisioning errors, 1 for others.
func GetExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if pe, ok := AsProvisionError(err); ok {
		return pe.ExitCode()
	}
	return ExitPrecondition
}

func NewInsufficientPrivilege(euid int) error {
	return &ProvisionError{
		Kind:    KindInsufficientPrivilege,
		Subject: fmt.Sprintf("euid=%d", euid),
		Message: "root privileges are required",
		Remediation: []string{
			"Re-run with sudo: sudo hearth install",
		},
	}
}

func NewInsufficientResources(resource string, have, need int64, unit string) error {
	return &ProvisionError{
		Kind:    KindInsufficientResources,
		Subject: resource,
		Message: fmt.Sprintf("%d%s available, %d%s required", have, unit, need, unit),
		Remediation: []string{
			"Free up space (apt-get clean, docker system prune -a) or attach larger storage",
			"Lower the threshold only if you know the services fit: --min-disk-gb",
		},
	}
}

func NewUnsupportedArchitecture(got, want string) error {
	return &ProvisionError{
		Kind:    KindUnsupportedArchitecture,
		Subject: got,
		Message: fmt.Sprintf("expected %s; images may not be available for this platform", want),
	}
}

func NewPackageInstallError(packages []string, cause error) error {
	return &ProvisionError{
		Kind:    KindPackageInstall,
		Subject: strings.Join(packages, ","),
		Message: "package installation failed after repair pass",
		Cause:   cause,
		Remediation: []string{
			"Inspect apt output: sudo apt-get install -y " + strings.Join(packages, " "),
			"Re-run: sudo hearth install",
		},
	}
}

func NewConfigWriteError(path string, cause error) error {
	return &ProvisionError{
		Kind:    KindConfigWrite,
		Subject: path,
		Message: "failed to write configuration",
		Cause:   cause,
		Remediation: []string{
			"Check free space and permissions of " + path,
			"Re-run: sudo hearth install",
		},
	}
}

func NewEngineUnavailable(cause error) error {
	return &ProvisionError{
		Kind:    KindEngineUnavailable,
		Subject: "docker",
		Message: "container engine did not become active",
		Cause:   cause,
		Remediation: []string{
			"Inspect the daemon: sudo systemctl status docker; sudo journalctl -u docker",
			"Re-run: sudo hearth install",
		},
	}
}

func NewOrchestrationError(service string, cause error) error {
	return &ProvisionError{
		Kind:    KindOrchestration,
		Subject: service,
		Message: "failed to converge container",
		Cause:   cause,
		Remediation: []string{
			"Inspect the container: sudo docker logs " + service,
			"Re-run: sudo hearth install --services " + service,
		},
	}
}

func NewVerificationTimeout(service string, after time.Duration, cause error) error {
	return &ProvisionError{
		Kind:    KindVerificationTimeout,
		Subject: service,
		Message: fmt.Sprintf("not ready after %s", after),
		Cause:   cause,
		Remediation: []string{
			"Re-check later: sudo hearth verify --services " + service,
		},
	}
}
