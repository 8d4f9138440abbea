package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/watzon/cobble/internal/game"
)

const (
	defaultDialTimeout    = 30 * time.Second
	defaultRequestTimeout = 15 * time.Second
)

// Dialer connects sessions through a bridge endpoint.
type Dialer struct {
	URL            string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// Secret, when set, signs a bearer token for every dial attempt.
	Secret string
}

var _ game.Dialer = (*Dialer)(nil)

// Dial opens a websocket to the bridge, retrying until DialTimeout, and logs
// the account in. The returned session is ready once the bridge confirms the
// login; the spawn event follows on Events.
func (d *Dialer) Dial(ctx context.Context, opts game.DialOptions) (game.Session, error) {
	dialTimeout := d.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	requestTimeout := d.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	attempt := 0
	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		header, err := authHeader(d.Secret, opts.Username)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		conn, resp, err := websocket.Dial(attemptCtx, d.URL, &websocket.DialOptions{HTTPHeader: header})
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, backoff.Permanent(fmt.Errorf("%w: bridge rejected credentials (%s)", ErrHandshake, resp.Status))
			}
			log.Debug().Err(err).Int("attempt", attempt).Str("url", d.URL).Msg("Bridge dial failed")
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(dialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing bridge %s: %w", d.URL, err)
	}

	s := newSession(conn, requestTimeout)
	s.username = opts.Username
	s.run()

	var res connectResult
	err = s.send(ctx, MessageTypeConnect, "connect", connectPayload{
		Username: opts.Username,
		Auth:     opts.Auth,
		Version:  opts.Version,
		Host:     opts.Host,
		Port:     opts.Port,
		Proxies:  opts.Proxies,
	}, &res)
	if err != nil {
		s.shutdown(websocket.StatusNormalClosure, "handshake failed")
		var rerr *RemoteError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("%w: %s", ErrHandshake, rerr.Message)
		}
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if res.Username != "" {
		s.username = res.Username
	}

	log.Info().Str("username", s.username).Str("server", fmt.Sprintf("%s:%d", opts.Host, opts.Port)).Msg("Bridge session connected")
	return s, nil
}
