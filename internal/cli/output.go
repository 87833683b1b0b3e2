package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	periodclose "github.com/coopledger/patronage/internal/close"
	"github.com/coopledger/patronage/internal/contribution"
	"github.com/coopledger/patronage/internal/ledger"
	"github.com/coopledger/patronage/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // successful execution
	ExitFailure      = 1 // domain failure (rejected operation, compliance violations)
	ExitCommandError = 2 // command error (bad flags, missing database, unreadable policy)
)

// Error codes carried in JSON output.
const (
	ErrCodeGeneric    = "E000"
	ErrCodeBadInput   = "E001"
	ErrCodeNotFound   = "E002"
	ErrCodeConflict   = "E003"
	ErrCodeCompliance = "E004"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// codeFor maps domain errors to output error codes.
func codeFor(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, ledger.ErrUnknownAccount),
		errors.Is(err, ledger.ErrUnknownTransaction):
		return ErrCodeNotFound
	case errors.Is(err, contribution.ErrUnknownContributionType),
		errors.Is(err, contribution.ErrZeroAmount):
		return ErrCodeBadInput
	case errors.Is(err, contribution.ErrSelfApproval),
		errors.Is(err, contribution.ErrAlreadyResolved),
		errors.Is(err, contribution.ErrClosedPeriod),
		errors.Is(err, store.ErrActivePeriodExists),
		errors.Is(err, periodclose.ErrPeriodNotOpen),
		errors.Is(err, periodclose.ErrPeriodNotClosing):
		return ErrCodeConflict
	case errors.Is(err, periodclose.ErrComplianceViolation):
		return ErrCodeCompliance
	default:
		return ErrCodeGeneric
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled. Goes to
// ErrWriter so JSON output on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// fail emits the error in the configured format and converts it to an
// ExitError carrying the appropriate exit code.
func fail(f *OutputFormatter, err error) error {
	code := codeFor(err)
	_ = f.Error(code, err.Error(), nil)
	if code == ErrCodeGeneric || code == ErrCodeBadInput {
		return WrapExitError(ExitCommandError, code, err)
	}
	return WrapExitError(ExitFailure, code, err)
}
