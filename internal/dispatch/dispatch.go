// Package dispatch routes named commands to their handlers.
//
// The command table is assembled once at startup and never mutated after,
// so lookups are lock-free. Handlers receive raw JSON arguments and decode
// their own parameter structs; a handler panic is converted into a
// structured error instead of taking the daemon down.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ricardoborges/nautilus/internal/errors"
)

// HandlerFunc executes one command. args is the raw "args" member of the
// request; handlers decode it themselves so each can define its own shape.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Dispatcher holds the static command table.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	log      zerolog.Logger
	sealed   bool
}

// New creates an empty dispatcher.
func New(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		log:      log.With().Str("component", "dispatch").Logger(),
	}
}

// Register adds a command to the table. Panics on duplicate names or
// registration after Seal; both are wiring bugs, not runtime conditions.
func (d *Dispatcher) Register(name string, h HandlerFunc) {
	if d.sealed {
		panic(fmt.Sprintf("dispatch: register %q after seal", name))
	}
	if _, exists := d.handlers[name]; exists {
		panic(fmt.Sprintf("dispatch: duplicate command %q", name))
	}
	d.handlers[name] = h
}

// Seal freezes the table. Called once after startup wiring completes.
func (d *Dispatcher) Seal() {
	d.sealed = true
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the named command. Unknown names fail with UNKNOWN_COMMAND;
// a panicking handler is recovered and reported as INTERNAL.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) (result interface{}, err error) {
	h, ok := d.handlers[name]
	if !ok {
		return nil, errors.New(errors.ErrUnknownCommand,
			fmt.Sprintf("unknown command %q", name))
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("command", name).Interface("panic", r).Msg("handler panicked")
			result = nil
			err = errors.New(errors.ErrInternal,
				fmt.Sprintf("command %q failed unexpectedly", name))
		}
	}()

	d.log.Debug().Str("command", name).Msg("dispatching")
	return h(ctx, args)
}

// decode unmarshals handler arguments, mapping malformed input to a
// validation error.
func decode(args json.RawMessage, into interface{}) error {
	if len(args) == 0 {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, into); err != nil {
		return errors.WrapWithCode(err, errors.ErrValidation, "malformed command arguments")
	}
	return nil
}
