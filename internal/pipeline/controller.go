package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrAborted is returned from control waits once an abort has been observed.
var ErrAborted = eris.New("pipeline: aborted")

// Speed is the operator-selected pacing level. It scales the provider rate
// limit, never individual calls.
type Speed string

const (
	SpeedSlow   Speed = "slow"
	SpeedNormal Speed = "normal"
	SpeedFast   Speed = "fast"
)

// Factor returns the rate-limit multiplier for the speed level.
func (s Speed) Factor() float64 {
	switch s {
	case SpeedSlow:
		return 0.25
	case SpeedFast:
		return 2.0
	default:
		return 1.0
	}
}

// ParseSpeed normalizes an operator-supplied speed string.
func ParseSpeed(s string) (Speed, bool) {
	switch Speed(s) {
	case SpeedSlow, SpeedNormal, SpeedFast:
		return Speed(s), true
	}
	return SpeedNormal, false
}

// Controller carries operator control signals into the pipeline. Signals
// are observed at stage boundaries only, never mid-call: pause halts new
// stage transitions, abort lets in-flight items finish naturally and stops
// new dispatch, skip discards one named item at its next boundary.
type Controller struct {
	mu      sync.Mutex
	pauseCh chan struct{} // non-nil while paused; closed by Resume
	aborted bool
	abortCh chan struct{}
	skips   map[string]struct{}
	speed   Speed
	onSpeed func(Speed)
}

// NewController creates a controller in the running state at normal speed.
// onSpeed, when non-nil, is invoked with each accepted speed change.
func NewController(onSpeed func(Speed)) *Controller {
	return &Controller{
		abortCh: make(chan struct{}),
		skips:   make(map[string]struct{}),
		speed:   SpeedNormal,
		onSpeed: onSpeed,
	}
}

// Pause halts new stage transitions until Resume.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pauseCh == nil && !c.aborted {
		c.pauseCh = make(chan struct{})
		zap.L().Info("pipeline: paused")
	}
}

// Resume releases every worker parked at a stage boundary.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pauseCh != nil {
		close(c.pauseCh)
		c.pauseCh = nil
		zap.L().Info("pipeline: resumed")
	}
}

// Paused reports whether stage transitions are currently halted.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseCh != nil
}

// Abort stops new items from starting. Items already in flight finish or
// fail naturally so paid results are never discarded mid-call.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return
	}
	c.aborted = true
	close(c.abortCh)
	if c.pauseCh != nil {
		close(c.pauseCh)
		c.pauseCh = nil
	}
	zap.L().Warn("pipeline: abort requested")
}

// Aborted reports whether an abort has been requested.
func (c *Controller) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Skip requests that the named item be discarded at its next stage
// boundary.
func (c *Controller) Skip(assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skips[assetID] = struct{}{}
}

// takeSkip consumes a pending skip request for the asset.
func (c *Controller) takeSkip(assetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.skips[assetID]; ok {
		delete(c.skips, assetID)
		return true
	}
	return false
}

// SetSpeed changes the pacing level.
func (c *Controller) SetSpeed(s Speed) {
	c.mu.Lock()
	c.speed = s
	cb := c.onSpeed
	c.mu.Unlock()

	zap.L().Info("pipeline: speed changed", zap.String("speed", string(s)))
	if cb != nil {
		cb(s)
	}
}

// CurrentSpeed returns the active pacing level.
func (c *Controller) CurrentSpeed() Speed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Wait blocks while the pipeline is paused. It returns ErrAborted when an
// abort arrives during the wait, or the context error on cancellation.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.aborted {
			c.mu.Unlock()
			return ErrAborted
		}
		ch := c.pauseCh
		c.mu.Unlock()

		if ch == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return nil
			}
		}

		select {
		case <-ch:
		case <-c.abortCh:
			return ErrAborted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
