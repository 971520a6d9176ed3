package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigNotFound indicates configuration file was not found
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrSourceNotFound indicates a reference to an undeclared source
	ErrSourceNotFound = errors.New("source not found")

	// ErrInvalidReference indicates an invalid cross-reference in configuration
	ErrInvalidReference = errors.New("invalid configuration reference")

	// ErrMissingRequiredField indicates a required field is missing
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field has an invalid value
	ErrInvalidValue = errors.New("invalid field value")

	// ErrDuplicateName indicates two sources or joins share a name
	ErrDuplicateName = errors.New("duplicate name")
)

// ValidationError reports one invalid setting. Component is the top-level
// section (pipeline, identity, masking, ledger, source, join or aliases), ID
// names the source, join or canonical column, and Field is the key inside it.
type ValidationError struct {
	Component string
	ID        string
	Field     string
	Err       error
}

// NewValidationError creates a new validation error
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// Key renders the location of the setting the way it is written in the
// configuration files: "sources[assessments].where_in.source",
// "pipeline.seed" or "aliases[mrn]: MRN__c".
func (e *ValidationError) Key() string {
	var b strings.Builder
	switch e.Component {
	case "source", "join":
		b.WriteString(e.Component + "s")
		if e.ID != "" {
			fmt.Fprintf(&b, "[%s]", e.ID)
		}
	case "aliases":
		b.WriteString(DefaultAliasFile)
		if e.ID != "" {
			fmt.Fprintf(&b, "[%s]", e.ID)
		}
		if e.Field != "" {
			fmt.Fprintf(&b, ": %s", e.Field)
		}
		return b.String()
	default:
		b.WriteString(e.Component)
	}
	if e.Field != "" {
		b.WriteString("." + e.Field)
	}
	return b.String()
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key(), e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// LoadError reports a configuration file that could not be read or parsed.
type LoadError struct {
	File string
	Err  error
}

// NewLoadError creates a new load error
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

func (e *LoadError) Error() string {
	if errors.Is(e.Err, ErrConfigNotFound) {
		return fmt.Sprintf("%s: %v (check --config-dir)", e.File, e.Err)
	}
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
