package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/events"
	"github.com/watzon/cobble/internal/game"
	"github.com/watzon/cobble/internal/hooks"
	"github.com/watzon/cobble/internal/scheduler"
	"github.com/watzon/cobble/internal/shop"
	"github.com/watzon/cobble/internal/status"
)

// npcStrikeDelay is the pause between arriving at the NPC and striking it.
const npcStrikeDelay = 500 * time.Millisecond

// runtime is everything bound to one live connection.
type runtime struct {
	s       *Session
	game    game.Session
	bus     *events.Bus
	library *actions.Library

	engine    *hooks.Engine
	shop      *shop.Coordinator
	scheduler *scheduler.Scheduler
	router    *Router

	ctx     context.Context
	cancel  context.CancelFunc
	cancels []func()
	wg      sync.WaitGroup

	visiting atomic.Bool
}

// assemble wires a fresh bus, hook engine, shop and scheduler to gs and
// starts them. On error nothing is left running.
func (s *Session) assemble(ctx context.Context, gs game.Session) (_ *runtime, err error) {
	rt := &runtime{
		s:       s,
		game:    gs,
		bus:     events.NewBus(s.cfg.ID),
		library: actions.NewLibrary(actions.WithNavigation(s.deps.Navigation)),
	}
	rt.ctx, rt.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	rt.engine, _, err = hooks.NewEngine(hooks.Config{
		SessionID: s.cfg.ID,
		Bus:       rt.bus,
		Session:   gs,
		Library:   rt.library,
		Status:    s.log,
		Limits:    s.deps.HookLimits,
	}, s.cfg.Modules.Hooks)
	if err != nil {
		return nil, err
	}

	if shopCfg := s.cfg.Modules.Autoshop; shopCfg.Enabled {
		var ledger shop.Ledger
		if s.deps.Ledger != nil {
			ledger = s.deps.Ledger
			s.recoverUnfinished(ctx)
		}
		rt.shop, err = shop.NewCoordinator(shop.Config{
			SessionID:     s.cfg.ID,
			Session:       gs,
			Bus:           rt.bus,
			Library:       rt.library,
			Status:        s.log,
			Chests:        shopCfg.Chests,
			Parser:        s.parser,
			Ledger:        ledger,
			EscrowTimeout: shopCfg.EscrowTimeout,
			RefundCommand: shopCfg.RefundCommand,
			PlotCommand:   shopCfg.PlotCommand,
		})
		if err != nil {
			return nil, err
		}
	}

	rt.router = NewRouter(rt.ctx, gs, rt.shop, s.assistant)
	cancels, err := rt.router.Subscribe(rt.bus)
	if err != nil {
		return nil, err
	}
	rt.cancels = append(rt.cancels, cancels...)

	if err := rt.subscribe(string(game.KindSpawn), rt.onSpawn); err != nil {
		return nil, err
	}
	if err := rt.subscribe("msaCode", rt.onAuthCode); err != nil {
		return nil, err
	}

	schedules := make([]scheduler.Schedule, 0, len(s.cfg.Schedules))
	for _, sc := range s.cfg.Schedules {
		schedules = append(schedules, scheduler.Schedule{Name: sc.Name, Expression: sc.Cron, Timezone: sc.Timezone})
	}
	rt.scheduler, err = scheduler.New(s.cfg.ID, rt.bus, schedules)
	if err != nil {
		return nil, err
	}

	if err := rt.engine.Start(rt.ctx); err != nil {
		return nil, err
	}
	if err := rt.scheduler.Start(rt.ctx, &scheduler.Config{PollInterval: s.deps.SchedulePoll}); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) subscribe(name string, h events.Handler) error {
	cancel, err := rt.bus.Subscribe(name, h)
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", name, err)
	}
	rt.cancels = append(rt.cancels, cancel)
	return nil
}

// pump publishes session events until a fatal event, the end of the stream
// or ctx cancellation.
func (rt *runtime) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-rt.game.Events():
			if !ok {
				rt.s.log.Emit("Disconnected.")
				return fmt.Errorf("%w: connection closed", ErrFatal)
			}
			rt.bus.Publish(rt.ctx, ev)
			if game.IsFatal(ev) {
				return rt.fatal(ev)
			}
		}
	}
}

func (rt *runtime) fatal(ev game.Event) error {
	var reason string
	switch e := ev.(type) {
	case game.Kicked:
		reason = "kicked: " + e.Reason
	case game.Error:
		reason = "error: " + e.Err.Error()
	case game.End:
		reason = "disconnected: " + e.Reason
	}
	status.Emitf(rt.s.log, "Session ended (%s).", reason)
	return fmt.Errorf("%w: %s", ErrFatal, reason)
}

// close stops every component in dependency order and logs the avatar out.
func (rt *runtime) close() {
	rt.cancel()
	if rt.scheduler != nil {
		rt.scheduler.Stop()
	}
	if rt.engine != nil {
		rt.engine.Stop()
	}
	for _, c := range rt.cancels {
		c()
	}
	if rt.router != nil {
		rt.router.Wait()
	}
	if rt.shop != nil {
		if err := rt.shop.Close(); err != nil {
			log.Warn().Err(err).Str("session", rt.s.cfg.ID).Msg("Closing shop")
		}
	}
	rt.wg.Wait()
	rt.bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()
	if err := rt.game.Quit(ctx); err != nil {
		log.Debug().Err(err).Str("session", rt.s.cfg.ID).Msg("Quit failed")
	}
}

// onSpawn walks to the configured NPC and strikes it, which on lobby
// servers opens the game mode selection.
func (rt *runtime) onSpawn(context.Context, game.Event) {
	npc := rt.s.cfg.Server.NPC
	if npc == nil || !rt.visiting.CompareAndSwap(false, true) {
		return
	}
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		defer rt.visiting.Store(false)
		if err := rt.visitNPC(rt.ctx, game.Vec3{X: npc.X, Y: npc.Y, Z: npc.Z}, npc.Name); err != nil {
			log.Warn().Err(err).Str("session", rt.s.cfg.ID).Str("npc", npc.Name).Msg("NPC visit failed")
		}
	}()
}

func (rt *runtime) visitNPC(ctx context.Context, pos game.Vec3, name string) error {
	if err := rt.library.Navigate(ctx, rt.game, rt.s.log, pos); err != nil {
		return err
	}
	if err := rt.game.LookAt(ctx, pos.Offset(0, 1.6, 0)); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(npcStrikeDelay):
	}

	target, found, err := rt.game.NearestEntity(ctx, game.EntityQuery{Match: name})
	if err != nil {
		return err
	}
	if !found {
		status.Emitf(rt.s.log, "NPC %s not found.", name)
		return nil
	}
	if err := rt.game.Attack(ctx, target); err != nil {
		return err
	}
	status.Emitf(rt.s.log, "Hit NPC %s.", name)
	return nil
}

func (rt *runtime) onAuthCode(_ context.Context, ev game.Event) {
	fields := ev.Fields()
	status.Emitf(rt.s.log, "To authenticate, open %v and enter the code %v.", fields["uri"], fields["code"])
}

// recoverUnfinished closes transactions a crashed process left open so
// operators can review them.
func (s *Session) recoverUnfinished(ctx context.Context) {
	open, err := s.deps.Ledger.Unfinished(ctx, s.cfg.ID)
	if err != nil {
		log.Error().Err(err).Str("session", s.cfg.ID).Msg("Loading unfinished transactions")
		return
	}
	for _, tx := range open {
		prev := tx.State
		tx.State = shop.StateClosedFailed
		tx.Reason = "interrupted in state " + string(prev)
		tx.UpdatedAt = time.Now().UTC()
		if err := s.deps.Ledger.Record(ctx, s.cfg.ID, tx); err != nil {
			log.Error().Err(err).Str("session", s.cfg.ID).Str("transaction", tx.ID).Msg("Closing interrupted transaction")
			continue
		}
		status.Emitf(s.log, "Transaction %s of %s (%d %s, %d Gold received) was interrupted while %s. Check payment manually.",
			tx.ID, tx.Buyer, tx.Quantity, tx.Item, tx.Received, prev)
	}
}
