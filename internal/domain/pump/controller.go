package pump

import (
	"context"
	"time"
)

// Controller abstracts the physical pump hardware for a terminal.
// Implementations must be safe for concurrent use.
type Controller interface {
	Calibrate(ctx context.Context, terminalID string) error
	Dispense(ctx context.Context, terminalID string, amountMg float64) error
}

// SimulatedController stands in for real pump hardware, succeeding after a
// configurable delay.
type SimulatedController struct {
	Latency time.Duration
}

func NewSimulatedController(latency time.Duration) *SimulatedController {
	return &SimulatedController{Latency: latency}
}

func (c *SimulatedController) Calibrate(ctx context.Context, terminalID string) error {
	return c.wait(ctx)
}

func (c *SimulatedController) Dispense(ctx context.Context, terminalID string, amountMg float64) error {
	return c.wait(ctx)
}

func (c *SimulatedController) wait(ctx context.Context) error {
	if c.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(c.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
