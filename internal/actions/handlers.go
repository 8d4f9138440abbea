package actions

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/watzon/cobble/internal/game"
)

// DefaultAttackInterval is the pause between repeated strikes.
const DefaultAttackInterval = 500 * time.Millisecond

// MaxAttackStrikes caps the strikes a single attack action may request.
// Fractional strengths round up, so 20 allows strength values up to 20.0.
const MaxAttackStrikes = 20

func message(ctx context.Context, l *Library, req *Request) error {
	text, ok := req.String("message")
	if !ok {
		return invalid(TypeMessage, `Message action missing "message" field.`)
	}
	if err := req.Session.Chat(ctx, text); err != nil {
		return failed(err, "Failed to send message")
	}
	req.emit("Said %q.", text)
	return nil
}

func whisper(ctx context.Context, l *Library, req *Request) error {
	user, okUser := req.String("username")
	text, okText := req.String("message")
	if !okUser || !okText {
		return invalid(TypeWhisper, `Whisper action missing "username" or "message".`)
	}
	if err := req.Session.Whisper(ctx, user, text); err != nil {
		return failed(err, "Failed to whisper %q", user)
	}
	req.emit("Whispered to %q.", user)
	return nil
}

func move(ctx context.Context, l *Library, req *Request) error {
	pos, ok := req.Position()
	if !ok {
		return invalid(TypeMove, "Move action requires x, y, z.")
	}
	return l.Navigate(ctx, req.Session, req.Status, pos)
}

func wait(ctx context.Context, l *Library, req *Request) error {
	secs, ok := req.Number("duration")
	if !ok || secs <= 0 {
		return invalid(TypeWait, `Wait action requires a positive "duration".`)
	}
	if err := sleep(ctx, time.Duration(secs*float64(time.Second))); err != nil {
		return failed(err, "Wait interrupted")
	}
	req.emit("Waited %gs.", secs)
	return nil
}

func dig(ctx context.Context, l *Library, req *Request) error {
	blockType, okType := req.String("blockType")
	pos, okPos := req.Position()
	if !okType || !okPos {
		return invalid(TypeDig, "Dig action requires blockType, x, y, z.")
	}

	block, found, err := req.Session.BlockAt(ctx, pos)
	if err != nil {
		return failed(err, "Failed to dig")
	}
	if !found {
		return invalid(TypeDig, "No block at %s.", pos)
	}
	if block.Name != blockType {
		return invalid(TypeDig, "Block at %s is not %q.", pos, blockType)
	}

	if err := req.Session.Dig(ctx, block); err != nil {
		return failed(err, "Failed to dig")
	}
	req.emit("Dug block %q at %s.", blockType, pos)
	return nil
}

func place(ctx context.Context, l *Library, req *Request) error {
	blockType, okType := req.String("blockType")
	pos, okPos := req.Position()
	direction, okDir := req.String("direction")
	if !okType || !okPos || !okDir {
		return invalid(TypePlace, "Place action requires blockType, x, y, z, direction.")
	}

	face, ok := game.ParseFace(direction)
	if !ok {
		return invalid(TypePlace, "Invalid direction %q.", direction)
	}

	if _, found, err := req.Session.BlockAt(ctx, pos); err != nil {
		return failed(err, "Failed to place")
	} else if !found {
		return invalid(TypePlace, "No block at %s for reference.", pos)
	}

	offset := face.Vector()
	refPos := pos.Offset(offset.X, offset.Y, offset.Z)
	ref, found, err := req.Session.BlockAt(ctx, refPos)
	if err != nil {
		return failed(err, "Failed to place")
	}
	if !found {
		return invalid(TypePlace, "No reference block at %s.", refPos)
	}

	item, found, err := req.Session.FindInventoryItem(ctx, blockType)
	if err != nil {
		return failed(err, "Failed to place")
	}
	if !found {
		return invalid(TypePlace, "Item %q not in inventory.", blockType)
	}

	if err := req.Session.Place(ctx, ref, offset, item); err != nil {
		return failed(err, "Failed to place")
	}
	req.emit("Placed %q at %s facing %s.", blockType, pos, face)
	return nil
}

func equip(ctx context.Context, l *Library, req *Request) error {
	slot, okSlot := req.String("slot")
	name, okItem := req.String("item")
	if !okSlot || !okItem {
		return invalid(TypeEquip, `Equip action requires "slot" and "item".`)
	}

	item, found, err := req.Session.FindInventoryItem(ctx, name)
	if err != nil {
		return failed(err, "Failed to equip")
	}
	if !found {
		return invalid(TypeEquip, "Item %q not in inventory.", name)
	}

	if err := req.Session.Equip(ctx, item, slot); err != nil {
		return failed(err, "Failed to equip")
	}
	req.emit("Equipped %q to %q.", name, slot)
	return nil
}

func attack(ctx context.Context, l *Library, req *Request) error {
	target, okTarget := req.String("target")
	strength, okStrength := req.Number("strength")
	if !okTarget || !okStrength || math.IsNaN(strength) || strength <= 0 {
		return invalid(TypeAttack, `Attack action requires valid "target" and positive "strength".`)
	}
	if strength > MaxAttackStrikes {
		return invalid(TypeAttack, `Attack "strength" may not exceed %d.`, MaxAttackStrikes)
	}

	entity, found, err := req.Session.NearestEntity(ctx, game.EntityQuery{Match: target})
	if err != nil {
		return failed(err, "Failed to attack %q", target)
	}
	if !found {
		return invalid(TypeAttack, "Target %q not found.", target)
	}

	strikes := int(math.Ceil(strength))
	for i := 0; i < strikes; i++ {
		if i > 0 {
			if err := sleep(ctx, l.attackInterval); err != nil {
				return failed(err, "Attack on %q interrupted after %d strikes", target, i)
			}
		}
		if err := req.Session.Attack(ctx, entity); err != nil {
			return failed(err, "Failed to attack %q", target)
		}
	}
	req.emit("Attacked %q with strength %d.", target, strikes)
	return nil
}

func useItem(ctx context.Context, l *Library, req *Request) error {
	name, okItem := req.String("item")
	target, okTarget := req.String("target")
	if !okItem || !okTarget {
		return invalid(TypeUseItem, `UseItem requires "item" and "target".`)
	}

	item, found, err := req.Session.FindInventoryItem(ctx, name)
	if err != nil {
		return failed(err, "Error using item")
	}
	if !found {
		return invalid(TypeUseItem, "Item %q not in inventory.", name)
	}

	entity, found, err := req.Session.NearestEntity(ctx, game.EntityQuery{Match: target})
	if err != nil {
		return failed(err, "Error using item")
	}
	if found {
		if err := req.Session.UseItem(ctx, item, game.UseTarget{Entity: &entity}); err != nil {
			return failed(err, "Error using item on entity")
		}
		req.emit("Used %q on entity %q.", name, target)
		return nil
	}

	// Fall back to the block in front of the avatar's feet.
	here, err := req.Session.Position(ctx)
	if err != nil {
		return failed(err, "Error using item")
	}
	block, found, err := req.Session.BlockAt(ctx, here.Offset(0, -1, 1))
	if err != nil {
		return failed(err, "Error using item")
	}
	if !found {
		return invalid(TypeUseItem, "Target %q not found.", target)
	}
	if err := req.Session.UseItem(ctx, item, game.UseTarget{Block: &block}); err != nil {
		return failed(err, "Error using item on block")
	}
	req.emit("Used %q on block at %s.", name, block.Position)
	return nil
}

func setWaypoint(ctx context.Context, l *Library, req *Request) error {
	name, okName := req.String("name")
	pos, okPos := req.Position()
	if !okName || !okPos {
		return invalid(TypeSetWaypoint, "SetWaypoint requires name, x, y, z.")
	}
	req.emit("Waypoint %q set at %s.", name, pos)
	return nil
}

func follow(ctx context.Context, l *Library, req *Request) error {
	target, okTarget := req.String("entity")
	distance, okDist := req.Number("distance")
	if !okTarget || !okDist || distance <= 0 {
		return invalid(TypeFollow, `Follow requires "entity" and "distance" > 0.`)
	}

	entity, found, err := req.Session.NearestEntity(ctx, game.EntityQuery{Match: target})
	if err != nil {
		return failed(err, "Failed to follow")
	}
	if !found {
		return invalid(TypeFollow, "Entity %q not found.", target)
	}

	goal := game.Goal{
		Kind:     game.GoalFollow,
		Position: entity.Position,
		EntityID: entity.ID,
		Range:    distance,
		Dynamic:  true,
	}
	if err := req.Session.MoveTo(ctx, goal); err != nil {
		return failed(err, "Failed to follow")
	}
	req.emit("Following %q at distance %g.", target, distance)
	return nil
}

func lookAt(ctx context.Context, l *Library, req *Request) error {
	if target, ok := req.String("target"); ok {
		entity, found, err := req.Session.NearestEntity(ctx, game.EntityQuery{Match: target})
		if err != nil {
			return failed(err, "Error looking at entity")
		}
		if !found {
			return invalid(TypeLookAt, "Entity %q not found.", target)
		}
		if err := req.Session.LookAt(ctx, entity.Position.Offset(0, entity.Height, 0)); err != nil {
			return failed(err, "Error looking at entity")
		}
		req.emit("Looking at %q.", target)
		return nil
	}

	pos, ok := req.Position()
	if !ok {
		return invalid(TypeLookAt, `LookAt requires "target" or x, y, z.`)
	}
	if err := req.Session.LookAt(ctx, pos); err != nil {
		return failed(err, "Error looking at coords")
	}
	req.emit("Looking at %s.", pos)
	return nil
}

func jump(ctx context.Context, l *Library, req *Request) error {
	height, ok := req.Number("height")
	if !ok || height <= 0 {
		return invalid(TypeJump, `Jump requires a numeric "height" > 0.`)
	}
	if err := req.Session.Jump(ctx); err != nil {
		return failed(err, "Failed to jump")
	}
	req.emit("Jumped with height %g.", height)
	return nil
}

func crouch(ctx context.Context, l *Library, req *Request) error {
	state, ok := req.Bool("state")
	if !ok {
		return invalid(TypeCrouch, `Crouch requires a boolean "state".`)
	}
	if err := req.Session.SetPosture(ctx, game.PostureSneak, state); err != nil {
		return failed(err, "Failed to set crouch")
	}
	req.emit("Crouch set to %t.", state)
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting %s: %w", d, ctx.Err())
	case <-t.C:
		return nil
	}
}
