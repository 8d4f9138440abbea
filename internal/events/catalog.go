package events

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/watzon/cobble/internal/game"
)

// ErrUnknownEvent is returned when a name is not in the catalog.
var ErrUnknownEvent = errors.New("unknown event")

// SchedulePrefix marks events published by the scheduler.
const SchedulePrefix = "schedule:"

// Spec describes a bindable event and the payload fields it carries.
type Spec struct {
	Name   string
	Kind   game.Kind
	Params []string
}

// Parameterised families: the suffix after the colon is free-form.
var families = []string{SchedulePrefix, "chat:", "blockUpdate:"}

var catalog = buildCatalog()

func buildCatalog() map[string]Spec {
	builtin := []Spec{
		{Name: "chat", Kind: game.KindChat, Params: []string{"username", "message"}},
		{Name: "whisper", Kind: game.KindWhisper, Params: []string{"username", "message"}},
		{Name: "message", Kind: game.KindMessage, Params: []string{"message"}},
		{Name: "spawn", Kind: game.KindSpawn},
		{Name: "kicked", Kind: game.KindKicked, Params: []string{"reason"}},
		{Name: "error", Kind: game.KindError, Params: []string{"error"}},
		{Name: "end", Kind: game.KindEnd, Params: []string{"reason"}},
	}

	named := map[string][]string{
		"actionBar":                  {"message"},
		"messagestr":                 {"message", "position", "sender"},
		"login":                      nil,
		"respawn":                    nil,
		"game":                       nil,
		"resourcePack":               {"url", "hash"},
		"title":                      {"title", "type"},
		"rain":                       nil,
		"weatherUpdate":              nil,
		"time":                       nil,
		"death":                      nil,
		"health":                     nil,
		"breath":                     nil,
		"entitySwingArm":             {"entity"},
		"entityHurt":                 {"entity"},
		"entityDead":                 {"entity"},
		"entityTaming":               {"entity"},
		"entityTamed":                {"entity"},
		"entityEat":                  {"entity"},
		"entityCrouch":               {"entity"},
		"entityUncrouch":             {"entity"},
		"entityEquip":                {"entity"},
		"entitySleep":                {"entity"},
		"entitySpawn":                {"entity"},
		"entityGone":                 {"entity"},
		"entityMoved":                {"entity"},
		"entityAttach":               {"entity", "vehicle"},
		"entityDetach":               {"entity", "vehicle"},
		"entityUpdate":               {"entity"},
		"entityEffect":               {"entity", "effect"},
		"entityEffectEnd":            {"entity", "effect"},
		"itemDrop":                   {"entity"},
		"playerCollect":              {"collector", "collected"},
		"heldItemChanged":            {"heldItem"},
		"playerJoined":               {"username"},
		"playerUpdated":              {"username"},
		"playerLeft":                 {"username"},
		"blockUpdate":                {"oldBlock", "newBlock"},
		"blockPlaced":                {"oldBlock", "newBlock"},
		"chunkColumnLoad":            {"point"},
		"chunkColumnUnload":          {"point"},
		"soundEffectHeard":           {"soundName", "position", "volume", "pitch"},
		"noteHeard":                  {"block", "instrument", "pitch"},
		"pistonMove":                 {"block", "isPulling", "direction"},
		"chestLidMove":               {"block", "isOpen"},
		"blockBreakProgressObserved": {"block", "destroyStage", "entity"},
		"blockBreakProgressEnd":      {"block", "entity"},
		"diggingCompleted":           {"block"},
		"diggingAborted":             {"block"},
		"usedFirework":               {"fireworkEntityId"},
		"move":                       nil,
		"forcedMove":                 nil,
		"mount":                      nil,
		"dismount":                   {"vehicle"},
		"windowOpen":                 {"window"},
		"windowClose":                {"window"},
		"sleep":                      nil,
		"wake":                       nil,
		"experience":                 nil,
		"scoreUpdated":               {"scoreboard", "item"},
		"scoreRemoved":               {"scoreboard", "item"},
		"teamMemberAdded":            {"team"},
		"teamMemberRemoved":          {"team"},
		"bossBarCreated":             {"bossBar"},
		"bossBarDeleted":             {"bossBar"},
		"bossBarUpdated":             {"bossBar"},
		"msaCode":                    {"uri", "code"},
	}

	out := make(map[string]Spec, len(builtin)+len(named))
	for _, s := range builtin {
		out[s.Name] = s
	}
	for name, params := range named {
		out[name] = Spec{Name: name, Kind: game.KindNamed, Params: params}
	}
	return out
}

// Lookup resolves a bindable event name.
func Lookup(name string) (Spec, error) {
	if s, ok := catalog[name]; ok {
		return s, nil
	}
	for _, prefix := range families {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return Spec{Name: name, Kind: game.KindNamed}, nil
		}
	}
	return Spec{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// Names lists every fixed catalog entry, sorted.
func Names() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ScheduleEvent names the event a cron schedule publishes.
func ScheduleEvent(schedule string) string {
	return SchedulePrefix + schedule
}

// KeyOf returns the subscription key an event is delivered under.
func KeyOf(ev game.Event) string {
	switch e := ev.(type) {
	case game.Chat:
		return string(game.KindChat)
	case game.Whisper:
		return string(game.KindWhisper)
	case game.Message:
		return string(game.KindMessage)
	case game.Spawn:
		return string(game.KindSpawn)
	case game.Kicked:
		return string(game.KindKicked)
	case game.Error:
		return string(game.KindError)
	case game.End:
		return string(game.KindEnd)
	case game.Named:
		return e.EventName
	}
	return ""
}
