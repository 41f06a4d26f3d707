// Package simctx holds the per-run state passed explicitly to every
// simulation component call.
package simctx

import (
	"fmt"
	"log/slog"

	"github.com/rs/xid"
)

// SimError is an error raised at a known point of the simulation.
type SimError struct {
	Cycle  uint64
	CoreID int
	PC     uint64
	Err    error
}

func (e *SimError) Error() string {
	return fmt.Sprintf("cycle %d: core %d: pc 0x%x: %v", e.Cycle, e.CoreID, e.PC, e.Err)
}

func (e *SimError) Unwrap() error {
	return e.Err
}

// Context carries the cycle clock, the run identifier, the logger and the
// log of non-fatal errors. There is one Context per simulation run.
type Context struct {
	Cycle  uint64
	RunID  xid.ID
	Logger *slog.Logger

	errors []*SimError
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger. The run id is attached to every record.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		c.Logger = logger
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id xid.ID) Option {
	return func(c *Context) {
		c.RunID = id
	}
}

// New creates a Context at cycle 0 with a fresh run id.
func New(opts ...Option) *Context {
	c := &Context{
		RunID:  xid.New(),
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Logger = c.Logger.With("run_id", c.RunID.String())
	return c
}

// Wrap attaches the current cycle, core and pc to err. An error that is
// already a *SimError is returned as is.
func (c *Context) Wrap(coreID int, pc uint64, err error) *SimError {
	if se, ok := err.(*SimError); ok {
		return se
	}
	return &SimError{Cycle: c.Cycle, CoreID: coreID, PC: pc, Err: err}
}

// Report records a non-fatal error and logs it at warn level.
func (c *Context) Report(coreID int, pc uint64, err error) {
	se := c.Wrap(coreID, pc, err)
	c.errors = append(c.errors, se)
	c.Logger.Warn("dropped",
		"cycle", se.Cycle, "core", se.CoreID, "pc", se.PC, "err", se.Err)
}

// Errors returns the non-fatal errors in the order they were reported.
func (c *Context) Errors() []*SimError {
	out := make([]*SimError, len(c.errors))
	copy(out, c.errors)
	return out
}

// Log returns the logger annotated with the current cycle.
func (c *Context) Log() *slog.Logger {
	return c.Logger.With("cycle", c.Cycle)
}
