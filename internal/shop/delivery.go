package shop

import (
	"context"
	"fmt"

	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/game"
	"github.com/watzon/cobble/internal/rules"
	"github.com/watzon/cobble/internal/status"
)

// runDelivery moves the paid goods from the chest to the buyer. Each step is
// awaited; the first error aborts and is returned for compensation.
func (c *Coordinator) runDelivery(ctx context.Context, tx *Transaction) error {
	s := c.cfg.Session
	pos := tx.Chest.Position()

	if tx.Chest.Plot != "" {
		cmd := rules.Resolve(c.cfg.PlotCommand, rules.Context{"plot": tx.Chest.Plot})
		if err := s.Chat(ctx, cmd); err != nil {
			return fmt.Errorf("teleporting to plot %s: %w", tx.Chest.Plot, err)
		}
	}

	if err := c.cfg.Library.Navigate(ctx, s, c.cfg.Status, pos); err != nil {
		return err
	}

	err := actions.WithContainer(ctx, s, pos, func(box game.Container) error {
		stock, err := box.Count(ctx, tx.Item)
		if err != nil {
			return fmt.Errorf("counting %s: %w", tx.Item, err)
		}
		if stock < tx.Quantity {
			return fmt.Errorf("%w: chest holds %d %s, want %d", ErrOutOfStock, stock, tx.Item, tx.Quantity)
		}
		if err := box.Withdraw(ctx, tx.Item, tx.Quantity); err != nil {
			return fmt.Errorf("withdrawing %d %s: %w", tx.Quantity, tx.Item, err)
		}
		tx.Withdrawn = tx.Quantity
		return nil
	})
	if err != nil {
		return err
	}
	status.Emitf(c.cfg.Status, "Withdrew %d %s for %s.", tx.Quantity, tx.Item, tx.Buyer)

	held, err := actions.InventoryCount(ctx, s, tx.Item)
	if err != nil {
		return err
	}
	if held < tx.Quantity {
		return fmt.Errorf("inventory holds %d %s after withdrawing %d", held, tx.Item, tx.Quantity)
	}
	if excess := held - tx.Quantity; excess > 0 {
		if err := actions.Deposit(ctx, s, pos, tx.Item, excess); err != nil {
			return fmt.Errorf("returning excess: %w", err)
		}
	}

	buyer, found, err := s.NearestEntity(ctx, game.EntityQuery{Match: tx.Buyer})
	if err != nil {
		return fmt.Errorf("locating %s: %w", tx.Buyer, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrBuyerAway, tx.Buyer)
	}
	if err := c.cfg.Library.Navigate(ctx, s, c.cfg.Status, buyer.Position); err != nil {
		return err
	}
	if err := actions.Transfer(ctx, s, tx.Item, tx.Quantity); err != nil {
		return err
	}
	tx.Withdrawn = 0
	c.whisper(ctx, tx.Buyer, fmt.Sprintf(MsgDelivered, tx.Quantity, tx.Item))

	// Leftovers are tidied up after the sale; failures here do not undo it.
	leftover, err := actions.InventoryCount(ctx, s, tx.Item)
	if err != nil || leftover == 0 {
		return nil
	}
	if err := c.cfg.Library.Navigate(ctx, s, c.cfg.Status, pos); err != nil {
		status.Emitf(c.cfg.Status, "Could not return %d leftover %s: %v", leftover, tx.Item, err)
		return nil
	}
	if err := actions.Deposit(ctx, s, pos, tx.Item, leftover); err != nil {
		status.Emitf(c.cfg.Status, "Could not return %d leftover %s: %v", leftover, tx.Item, err)
	}
	return nil
}
