package game

// Kind identifies one of the closed set of session event variants.
type Kind string

const (
	KindChat    Kind = "chat"
	KindWhisper Kind = "whisper"
	KindMessage Kind = "message"
	KindSpawn   Kind = "spawn"
	KindKicked  Kind = "kicked"
	KindError   Kind = "error"
	KindEnd     Kind = "end"
	// KindNamed carries any other game event, identified by name.
	KindNamed Kind = "named"
)

// Event is emitted by a Session. The concrete types below are the only
// implementations; switch on them exhaustively.
type Event interface {
	Kind() Kind
	// Name is the bindable event name: the kind for built-in variants and the
	// game event name for Named.
	Name() string
	// Fields exposes the payload for placeholder resolution.
	Fields() map[string]any
	sealed()
}

// Chat is a public chat line from a player.
type Chat struct {
	Username string
	Message  string
}

// Whisper is a private message addressed to the avatar.
type Whisper struct {
	Username string
	Message  string
}

// Message is any raw system or chat line, as text.
type Message struct {
	Text string
}

// Spawn fires when the avatar enters the world.
type Spawn struct{}

// Kicked fires when the server removes the avatar.
type Kicked struct {
	Reason string
}

// Error reports a connection-level failure.
type Error struct {
	Err error
}

// End fires when the connection closes.
type End struct {
	Reason string
}

// Named is any other game event declared in the event catalog.
type Named struct {
	EventName string
	Payload   map[string]any
}

func (Chat) Kind() Kind    { return KindChat }
func (Whisper) Kind() Kind { return KindWhisper }
func (Message) Kind() Kind { return KindMessage }
func (Spawn) Kind() Kind   { return KindSpawn }
func (Kicked) Kind() Kind  { return KindKicked }
func (Error) Kind() Kind   { return KindError }
func (End) Kind() Kind     { return KindEnd }
func (Named) Kind() Kind   { return KindNamed }

func (e Chat) Name() string    { return string(e.Kind()) }
func (e Whisper) Name() string { return string(e.Kind()) }
func (e Message) Name() string { return string(e.Kind()) }
func (e Spawn) Name() string   { return string(e.Kind()) }
func (e Kicked) Name() string  { return string(e.Kind()) }
func (e Error) Name() string   { return string(e.Kind()) }
func (e End) Name() string     { return string(e.Kind()) }
func (e Named) Name() string   { return e.EventName }

func (e Chat) Fields() map[string]any {
	return map[string]any{"username": e.Username, "message": e.Message}
}

func (e Whisper) Fields() map[string]any {
	return map[string]any{"username": e.Username, "message": e.Message}
}

func (e Message) Fields() map[string]any {
	return map[string]any{"message": e.Text}
}

func (Spawn) Fields() map[string]any { return map[string]any{} }

func (e Kicked) Fields() map[string]any {
	return map[string]any{"reason": e.Reason}
}

func (e Error) Fields() map[string]any {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return map[string]any{"error": msg}
}

func (e End) Fields() map[string]any {
	return map[string]any{"reason": e.Reason}
}

func (e Named) Fields() map[string]any {
	out := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		out[k] = v
	}
	return out
}

func (Chat) sealed()    {}
func (Whisper) sealed() {}
func (Message) sealed() {}
func (Spawn) sealed()   {}
func (Kicked) sealed()  {}
func (Error) sealed()   {}
func (End) sealed()     {}
func (Named) sealed()   {}

// IsFatal reports whether the event ends the connection.
func IsFatal(ev Event) bool {
	switch ev.(type) {
	case Kicked, Error, End:
		return true
	case Chat, Whisper, Message, Spawn, Named:
		return false
	}
	return false
}
