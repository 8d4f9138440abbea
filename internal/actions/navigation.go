package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/watzon/cobble/internal/game"
	"github.com/watzon/cobble/internal/status"
)

// Navigation defaults.
const (
	DefaultArriveDistance = 2.0
	DefaultPollInterval   = time.Second
	DefaultNavTimeout     = 60 * time.Second
)

var errNotArrived = errors.New("not arrived")

// ErrNavigationTimeout is returned when the avatar does not reach its goal
// in time.
var ErrNavigationTimeout = errors.New("navigation timed out")

// NavConfig bounds arrival polling.
type NavConfig struct {
	ArriveDistance float64
	PollInterval   time.Duration
	Timeout        time.Duration
}

func (c NavConfig) withDefaults() NavConfig {
	if c.ArriveDistance <= 0 {
		c.ArriveDistance = DefaultArriveDistance
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultNavTimeout
	}
	return c
}

// Navigate sets a block goal and polls until the avatar is within the
// arrival distance. It reports the result to sink and returns a
// CapabilityError on failure.
func (l *Library) Navigate(ctx context.Context, s game.Session, sink status.Sink, pos game.Vec3) error {
	if err := l.navigate(ctx, s, pos); err != nil {
		return failed(err, "Navigation to %s failed", pos)
	}
	status.Emitf(sink, "Arrived at %s.", pos)
	return nil
}

func (l *Library) navigate(ctx context.Context, s game.Session, pos game.Vec3) error {
	goal := game.Goal{Kind: game.GoalBlock, Position: pos, Dynamic: true}
	if err := s.MoveTo(ctx, goal); err != nil {
		return err
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		here, err := s.Position(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if here.DistanceTo(pos) < l.nav.ArriveDistance {
			return struct{}{}, nil
		}
		return struct{}{}, errNotArrived
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(l.nav.PollInterval)),
		backoff.WithMaxElapsedTime(l.nav.Timeout),
	)
	if errors.Is(err, errNotArrived) {
		return fmt.Errorf("%w after %s", ErrNavigationTimeout, l.nav.Timeout)
	}
	return err
}

// WithContainer opens the container at pos, runs fn and closes it.
func WithContainer(ctx context.Context, s game.Session, pos game.Vec3, fn func(game.Container) error) error {
	block, found, err := s.BlockAt(ctx, pos)
	if err != nil {
		return failed(err, "Failed to inspect %s", pos)
	}
	if !found {
		return failed(game.ErrNoBlock, "No container at %s", pos)
	}

	c, err := s.OpenContainer(ctx, block)
	if err != nil {
		return failed(err, "Failed to open container at %s", pos)
	}

	fnErr := fn(c)
	closeErr := c.Close(ctx)
	if fnErr != nil {
		return fnErr
	}
	if closeErr != nil {
		return failed(closeErr, "Failed to close container at %s", pos)
	}
	return nil
}

// InventoryCount returns how many of item the avatar holds.
func InventoryCount(ctx context.Context, s game.Session, item string) (int, error) {
	it, found, err := s.FindInventoryItem(ctx, item)
	if err != nil {
		return 0, failed(err, "Failed to read inventory")
	}
	if !found {
		return 0, nil
	}
	return it.Count, nil
}

// Deposit opens the container at pos and stores qty of item.
func Deposit(ctx context.Context, s game.Session, pos game.Vec3, item string, qty int) error {
	if qty <= 0 {
		return nil
	}
	return WithContainer(ctx, s, pos, func(c game.Container) error {
		if err := c.Deposit(ctx, item, qty); err != nil {
			return failed(err, "Failed to deposit %d %s", qty, item)
		}
		return nil
	})
}

// Transfer hands qty of item to whoever stands in front of the avatar.
func Transfer(ctx context.Context, s game.Session, item string, qty int) error {
	if err := s.Toss(ctx, item, qty); err != nil {
		return failed(err, "Failed to hand over %d %s", qty, item)
	}
	return nil
}
