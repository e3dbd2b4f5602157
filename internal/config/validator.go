package config

import (
	"fmt"
	"net/url"
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
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
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

// Has reports whether field has an error.
func (e *ValidationErrors) Has(field string) bool {
	for _, err := range e.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate checks the semantics the schema cannot express.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.Agents <= 0 {
		errs.Add("agents", "agents must be greater than 0")
	}
	if c.CycleTime <= 0 {
		errs.Add("cycleTime", "cycleTime must be greater than 0")
	}
	if c.Steady <= 0 {
		errs.Add("steady", "steady must be greater than 0")
	}
	for _, f := range []struct {
		name string
		d    Duration
	}{
		{"rampUp", c.RampUp},
		{"rampDown", c.RampDown},
		{"startDelay", c.StartDelay},
		{"lateThreshold", c.LateThreshold},
	} {
		if f.d < 0 {
			errs.Add(f.name, f.name+" cannot be negative")
		}
	}
	if c.Steady > 0 && c.CycleTime > c.Steady {
		errs.Add("cycleTime", "cycleTime must not exceed steady")
	}

	validateOperation(&c.Operation, errs)
	validateWorkers(c.Workers, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateOperation(op *OperationConfig, errs *ValidationErrors) {
	switch op.Type {
	case OperationHTTP:
		if op.HTTP == nil {
			errs.Add("operation.http", "http settings are required for http operations")
			return
		}
		validateHTTP("operation.http", op.HTTP, errs)
	case OperationSleep:
		if op.Sleep != nil && op.Sleep.Duration < 0 {
			errs.Add("operation.sleep.duration", "duration cannot be negative")
		}
	case "":
		errs.Add("operation.type", "operation type is required")
	default:
		errs.Add("operation.type", fmt.Sprintf("unknown operation type: %s", op.Type))
	}
}

func validateHTTP(prefix string, h *HTTPConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}
	if h.Method != "" && !validMethods[strings.ToUpper(h.Method)] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", h.Method))
	}

	validateURL(prefix+".url", h.URL, errs)

	if h.Timeout < 0 {
		errs.Add(prefix+".timeout", "timeout cannot be negative")
	}
	for i, e := range h.Expect {
		if e.Path == "" {
			errs.Add(fmt.Sprintf("%s.expect[%d].path", prefix, i), "path is required")
		}
	}
}

func validateWorkers(workers []WorkerConfig, errs *ValidationErrors) {
	seen := make(map[string]bool, len(workers))
	for i, w := range workers {
		prefix := fmt.Sprintf("workers[%d]", i)
		if w.Name == "" {
			errs.Add(prefix+".name", "name is required")
		} else if seen[w.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate worker name: %s", w.Name))
		}
		seen[w.Name] = true
		validateURL(prefix+".url", w.URL, errs)
	}
}

func validateURL(field, raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add(field, "url is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add(field, fmt.Sprintf("unsupported URL scheme: %q", u.Scheme))
	}
	if u.Host == "" {
		errs.Add(field, "URL has no host")
	}
}
