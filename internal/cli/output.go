package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and failed: mutation rejected, query not found
	ExitCommandError = 2 // the command could not run: bad config, unreadable replica, invalid flags
)

// Codes of the JSON error envelope.
const (
	ErrCodeGeneric        = "E001"
	ErrCodeConfig         = "E002"
	ErrCodeStore          = "E003"
	ErrCodeInvalidInput   = "E004"
	ErrCodeMutationFailed = "E005"
	ErrCodeQueryFailed    = "E006"
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of the first ExitError in err's chain, or
// ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// TextRenderer is implemented by results with a human-readable form.
type TextRenderer interface {
	RenderText(w io.Writer) error
}

// CLIResponse is the envelope written with --format json.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or as a CLIResponse.
// Diagnostics never go through it; commands log them on stderr.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool // print error details in text mode
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

func (f *OutputFormatter) envelope(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success writes data. In text mode a TextRenderer renders itself, a
// string is printed as a line and anything else as indented JSON.
func (f *OutputFormatter) Success(data any) error {
	if f.json() {
		return f.envelope(CLIResponse{Status: "ok", Data: data})
	}

	switch v := data.(type) {
	case TextRenderer:
		return v.RenderText(f.Writer)
	case string:
		_, err := fmt.Fprintln(f.Writer, v)
		return err
	}
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Error writes a failure with one of the ErrCode constants.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.json() {
		return f.envelope(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		_, err := fmt.Fprintf(f.Writer, "Details: %v\n", details)
		return err
	}
	return nil
}
