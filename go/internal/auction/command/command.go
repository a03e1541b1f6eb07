// Package command implements optimistic commands: apply locally, commit
// remotely, roll back if the commit fails or times out.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of a command.
type State string

const (
	StateIdle       State = "IDLE"
	StatePending    State = "PENDING"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
)

// ErrAlreadyRun is returned when a command is run twice.
var ErrAlreadyRun = errors.New("command already run")

// Command is one optimistic operation. Apply and Rollback run locally and
// must not block; Commit talks to the authority.
type Command struct {
	Name     string
	Apply    func()
	Commit   func(ctx context.Context) error
	Rollback func()

	mu    sync.Mutex
	state State
	err   error
}

// New creates an idle command.
func New(name string, apply func(), commit func(ctx context.Context) error, rollback func()) *Command {
	return &Command{Name: name, Apply: apply, Commit: commit, Rollback: rollback, state: StateIdle}
}

// State returns the current lifecycle state.
func (c *Command) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == "" {
		return StateIdle
	}
	return c.state
}

// Err returns the commit error of a rolled back command.
func (c *Command) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Command) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.state
	if current == "" {
		current = StateIdle
	}
	if current != from {
		return false
	}
	c.state = to
	return true
}

// Run drives the command through IDLE -> PENDING -> COMMITTED | ROLLED_BACK.
// A commit that has not returned within timeout is abandoned and rolled back;
// its late result is ignored. A zero timeout waits for ctx only.
func Run(ctx context.Context, c *Command, timeout time.Duration) error {
	if !c.transition(StateIdle, StatePending) {
		return fmt.Errorf("%s: %w", c.Name, ErrAlreadyRun)
	}

	if c.Apply != nil {
		c.Apply()
	}
	log.Debug().Str("command", c.Name).Msg("command applied optimistically")

	commitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		commitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		if c.Commit == nil {
			done <- nil
			return
		}
		done <- c.Commit(commitCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-commitCtx.Done():
		err = commitCtx.Err()
	}

	if err == nil {
		c.transition(StatePending, StateCommitted)
		log.Debug().Str("command", c.Name).Msg("command committed")
		return nil
	}

	if c.Rollback != nil {
		c.Rollback()
	}
	c.mu.Lock()
	c.state = StateRolledBack
	c.err = err
	c.mu.Unlock()
	log.Warn().Err(err).Str("command", c.Name).Msg("command rolled back")
	return fmt.Errorf("%s: %w", c.Name, err)
}
