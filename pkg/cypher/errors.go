// Package cypher - error taxonomy for the query pipeline.
package cypher

import (
	"errors"
	"fmt"

	"github.com/tveitane/hugindb/pkg/storage"
)

// SyntaxError reports malformed query text. It is produced by the lexer or
// parser and never reaches planning.
type SyntaxError struct {
	Pos   int    // byte offset into the query text
	Token string // offending token, "" at end of input
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("syntax error at offset %d near %q: %s", e.Pos, e.Token, e.Msg)
}

func syntaxErrorf(pos int, token, format string, args ...any) *SyntaxError {
	return &SyntaxError{Pos: pos, Token: token, Msg: fmt.Sprintf(format, args...)}
}

// PlanError reports a well-formed statement that cannot be executed:
// UNION column mismatch, unknown function, unbound variable. Planning
// failures are surfaced before any store access, so a PlanError guarantees
// no partial side effects.
type PlanError struct {
	Msg string
}

func (e *PlanError) Error() string {
	return "plan error: " + e.Msg
}

func planErrorf(format string, args ...any) *PlanError {
	return &PlanError{Msg: fmt.Sprintf(format, args...)}
}

// TypeError reports incompatible operand types during evaluation. Inside a
// WHERE predicate it excludes the row; anywhere else it aborts the
// statement.
type TypeError struct {
	Msg string
}

func (e *TypeError) Error() string {
	return "type error: " + e.Msg
}

func typeErrorf(format string, args ...any) *TypeError {
	return &TypeError{Msg: fmt.Sprintf(format, args...)}
}

// TimeoutError reports a statement aborted by deadline or cancellation,
// distinct from plan and store errors so callers can tell "too expensive"
// from "invalid".
type TimeoutError struct {
	Msg string
}

func (e *TimeoutError) Error() string {
	return "timeout: " + e.Msg
}

// IsStoreError reports whether err originates in the storage layer
// (dangling endpoint, node-has-relationships, not-found). Storage sentinels
// pass through the executor wrapped, so errors.Is still matches.
func IsStoreError(err error) bool {
	return errors.Is(err, storage.ErrDanglingEndpoint) ||
		errors.Is(err, storage.ErrNodeHasRelationships) ||
		errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrIndexExists) ||
		errors.Is(err, storage.ErrIndexNotFound)
}
