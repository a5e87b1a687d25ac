package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Request describes one triggered action.
type Request struct {
	Action     ID
	BlinkCount int
	At         time.Time
}

// Effect performs the side effect behind an action.
type Effect interface {
	Execute(ctx context.Context, req Request) error
}

// EffectFunc adapts a function to an Effect.
type EffectFunc func(ctx context.Context, req Request) error

// Execute calls f(ctx, req).
func (f EffectFunc) Execute(ctx context.Context, req Request) error {
	return f(ctx, req)
}

type chain []Effect

func (c chain) Execute(ctx context.Context, req Request) error {
	var errs []error
	for _, e := range c {
		if err := e.Execute(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Chain runs the effects in order. Every effect runs even if an earlier one
// fails; the errors are joined.
func Chain(effects ...Effect) Effect {
	return chain(effects)
}

// Dispatcher looks up a blink count in its mapping and runs the effect
// registered for the resulting action.
type Dispatcher struct {
	mapping Mapping
	effects map[ID]Effect
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. The mapping and the effect table are
// copied, so later changes by the caller do not affect it.
func NewDispatcher(mapping Mapping, effects map[ID]Effect, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := make(map[ID]Effect, len(effects))
	for id, e := range effects {
		if e != nil {
			table[id] = e
		}
	}
	return &Dispatcher{
		mapping: mapping.Clone(),
		effects: table,
		logger:  logger.Named("dispatcher"),
	}
}

// Lookup returns the action mapped to count.
func (d *Dispatcher) Lookup(count int) (ID, bool) {
	id, ok := d.mapping[count]
	return id, ok
}

// Mapping returns a copy of the dispatcher's mapping.
func (d *Dispatcher) Mapping() Mapping {
	return d.mapping.Clone()
}

// Dispatch runs the effect mapped to count. An unmapped count, or an action
// without a registered effect, is a silent no-op and returns "".
func (d *Dispatcher) Dispatch(ctx context.Context, count int) (ID, error) {
	id, ok := d.mapping[count]
	if !ok {
		d.logger.Debug("no action mapped", zap.Int("blinks", count))
		return "", nil
	}

	effect, ok := d.effects[id]
	if !ok {
		d.logger.Debug("no effect registered", zap.String("action", id.String()))
		return "", nil
	}

	req := Request{Action: id, BlinkCount: count, At: time.Now()}
	if err := effect.Execute(ctx, req); err != nil {
		return id, fmt.Errorf("action %s: %w", id, err)
	}

	d.logger.Info("action dispatched", zap.String("action", id.String()), zap.Int("blinks", count))
	return id, nil
}
