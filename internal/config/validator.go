package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the parts of a batch file the schema cannot express.
// Count and command checks are left to the driver, which owns them.
//
// Returns nil if valid, or a ValidationErrors containing all problems.
func (c *BatchFile) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(&c.Target, errs)

	switch strings.ToLower(strings.TrimSpace(c.Batch.Mode)) {
	case "parallel", "serial":
	default:
		errs.Add("batch.mode", fmt.Sprintf("unknown mode %q (want parallel or serial)", c.Batch.Mode))
	}

	if c.Batch.Concurrency < 0 {
		errs.Add("batch.concurrency", "concurrency must be >= 0")
	}
	if c.Batch.Rate < 0 {
		errs.Add("batch.rate", "rate must be >= 0")
	}
	if c.Batch.InvocationTimeout < 0 {
		errs.Add("batch.invocationTimeout", "timeout must not be negative")
	}
	if c.Batch.JoinTimeout < 0 {
		errs.Add("batch.joinTimeout", "timeout must not be negative")
	}

	for i, line := range c.CommandLines() {
		if strings.Contains(line, "{{") && strings.Contains(line, "}}") {
			errs.Add(fmt.Sprintf("batch.commands[%d]", i), fmt.Sprintf("unresolved variable in %q", line))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	if _, _, err := net.SplitHostPort(t.Address); err != nil {
		errs.Add("target.address", fmt.Sprintf("must be host:port: %v", err))
	}

	switch t.Client {
	case ClientRESP:
	case ClientExec:
		if t.Exec.Binary == "" {
			errs.Add("target.exec.binary", "binary is required for the exec client")
		}
	default:
		errs.Add("target.client", fmt.Sprintf("unknown client %q (want resp or exec)", t.Client))
	}
}
