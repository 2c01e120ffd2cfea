// Copyright 2026 © The Reportcard Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the reportcard CLI.
package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/reportcard/pkg/errors"
)

// CLIError wraps a typed error with a hint for the person at the terminal.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(err *errors.Error, hint string) *CLIError {
	return &CLIError{Err: err, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// PrintError prints the error as text or as a JSON object on one line.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		payload, _ := json.Marshal(map[string]any{"error": map[string]any{
			"code":    e.Err.Code,
			"message": e.Err.Message,
			"cause":   causeOf(e.Err),
			"hint":    e.Hint,
		}})
		fmt.Fprintln(w, string(payload))
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", e.Err.Code, e.Err.Message)
	if cause := causeOf(e.Err); cause != "" {
		fmt.Fprintf(w, "  Cause: %s\n", cause)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// NewNotFoundError creates a not found error with CLI hints.
func NewNotFoundError(resource, id string) *CLIError {
	e := errors.NotFound(fmt.Sprintf("%s '%s' not found", resource, id), id).
		WithContext("resource", resource)
	return NewCLIError(e, fmt.Sprintf("check the %s id", resource))
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg)
	return NewCLIError(e, "run 'reportcard help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)

	hint := "check your configuration and REPORTCARD_* environment variables"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for errors", configPath)
	}
	return NewCLIError(e, hint)
}

func usageError(usage string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "usage: reportcard "+usage, nil)
	return NewCLIError(e, "")
}

// printError prints err, adding a hint for the typed error codes.
func printError(w io.Writer, err error, asJSON bool) {
	var cliErr *CLIError
	if stderrors.As(err, &cliErr) {
		cliErr.PrintError(w, asJSON)
		return
	}
	typed := errors.As(err)
	NewCLIError(typed, hintFor(typed.Code)).PrintError(w, asJSON)
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeNotFound:
		return "check the record id"
	case errors.CodeUpstream:
		return "check that qdrant.url is reachable and the embedder is configured"
	case errors.CodeInvalidInput:
		return "run 'reportcard help' for usage information"
	case errors.CodeUnauthorized:
		return "check qdrant.api_key or embedder.api_key"
	default:
		return ""
	}
}

func causeOf(e *errors.Error) string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
