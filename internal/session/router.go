package session

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/watzon/cobble/internal/assistant"
	"github.com/watzon/cobble/internal/events"
	"github.com/watzon/cobble/internal/game"
	"github.com/watzon/cobble/internal/shop"
)

// MsgBuyUsage answers a malformed buy command.
const MsgBuyUsage = "Invalid request. Format: buy <itemName> <amount>."

var (
	// "[VIP ● Alice --> dir] buy diamond 3"
	privateMessagePattern = regexp.MustCompile(`^\[.*? --> dir\] (.+)$`)
	privateSenderPattern  = regexp.MustCompile(`^\[(.*?) ● (.*?) --> dir\]`)
)

// Command is a parsed chat command.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a message into a command word and its arguments.
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: fields[0], Args: fields[1:]}, true
}

// ParsePrivateMessage extracts sender and body from a server-formatted
// private message line.
func ParsePrivateMessage(text string) (user, body string, ok bool) {
	m := privateMessagePattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	u := privateSenderPattern.FindStringSubmatch(text)
	if u == nil || strings.TrimSpace(u[2]) == "" {
		return "", "", false
	}
	return strings.TrimSpace(u[2]), strings.TrimSpace(m[1]), true
}

// parseBuy reads "<item> [amount]". A missing, zero or non-numeric amount
// buys one; a negative or out-of-range amount is invalid.
func parseBuy(args []string) (item string, qty int, ok bool) {
	if len(args) == 0 || args[0] == "" {
		return "", 0, false
	}
	qty = 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		switch {
		case errors.Is(err, strconv.ErrRange):
			return "", 0, false
		case err == nil && n != 0:
			qty = n
		}
	}
	if qty < 1 {
		return "", 0, false
	}
	return args[0], qty, true
}

// Router turns whispers and private messages into chat commands. Commands
// run on their own goroutines bound to the router's context.
type Router struct {
	ctx       context.Context
	game      game.Session
	shop      *shop.Coordinator
	assistant *assistant.Assistant

	wg sync.WaitGroup
}

// NewRouter creates a router. A nil shop or assistant disables its command.
func NewRouter(ctx context.Context, gs game.Session, coord *shop.Coordinator, a *assistant.Assistant) *Router {
	return &Router{ctx: ctx, game: gs, shop: coord, assistant: a}
}

// Subscribe binds the router to whisper and message events.
func (r *Router) Subscribe(bus *events.Bus) ([]func(), error) {
	var cancels []func()
	for name, h := range map[string]events.Handler{
		string(game.KindWhisper): r.onWhisper,
		string(game.KindMessage): r.onMessage,
	} {
		cancel, err := bus.Subscribe(name, h)
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return nil, err
		}
		cancels = append(cancels, cancel)
	}
	return cancels, nil
}

func (r *Router) onWhisper(_ context.Context, ev game.Event) {
	w, ok := ev.(game.Whisper)
	if !ok {
		return
	}
	r.Handle(w.Username, w.Message)
}

func (r *Router) onMessage(_ context.Context, ev game.Event) {
	m, ok := ev.(game.Message)
	if !ok {
		return
	}
	if user, body, ok := ParsePrivateMessage(m.Text); ok {
		r.Handle(user, body)
	}
}

// Handle runs the command in text on behalf of user. Messages from the
// avatar itself are ignored.
func (r *Router) Handle(user, text string) {
	if user == "" || user == r.game.Username() {
		return
	}
	cmd, ok := ParseCommand(text)
	if !ok {
		return
	}

	switch {
	case cmd.Name == "gpt" && r.assistant != nil:
	case cmd.Name == "buy" && r.shop != nil:
	default:
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(r.ctx, user, cmd)
	}()
}

func (r *Router) run(ctx context.Context, user string, cmd Command) {
	switch cmd.Name {
	case "gpt":
		reply := r.assistant.Reply(ctx, user, strings.Join(cmd.Args, " "))
		r.whisper(ctx, user, reply)

	case "buy":
		item, qty, ok := parseBuy(cmd.Args)
		if !ok {
			r.whisper(ctx, user, MsgBuyUsage)
			return
		}
		err := r.shop.Buy(ctx, user, item, qty)
		switch {
		case err == nil, errors.Is(err, shop.ErrOngoing), errors.Is(err, shop.ErrItemUnavailable):
		case errors.Is(err, shop.ErrInvalidQuantity):
			r.whisper(ctx, user, MsgBuyUsage)
		default:
			log.Warn().Err(err).Str("user", user).Str("item", item).Msg("Buy command failed")
		}
	}
}

func (r *Router) whisper(ctx context.Context, user, text string) {
	if err := r.game.Whisper(ctx, user, text); err != nil {
		log.Warn().Err(err).Str("user", user).Msg("Whisper failed")
	}
}

// Wait blocks until every running command has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}
