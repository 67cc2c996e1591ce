// Package transport provides the default bridge transport: a WebSocket
// connection speaking JSON text frames, authenticated with a bearer token.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	"github.com/perchworks/gangway/internal/bridge"
)

const readLimit = 512 * 1024 // match the bridge's frame limit

// WS dials WebSocket connections to the bridge.
type WS struct {
	Token string // bearer token, optionally a JWT
}

func NewWS(token string) *WS {
	return &WS{Token: token}
}

// Dial opens one connection. An already-expired JWT is rejected locally so
// the caller sees a clear error instead of an opaque 401 handshake failure.
func (t *WS) Dial(ctx context.Context, url string) (bridge.Conn, error) {
	if err := checkTokenExpiry(t.Token); err != nil {
		return nil, err
	}

	opts := &websocket.DialOptions{
		HTTPHeader: make(map[string][]string),
	}
	if t.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+t.Token)
	}

	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return &wsConn{conn: conn}, nil
}

// checkTokenExpiry parses the token's claims without verifying the
// signature; verification is the bridge's job. Non-JWT tokens pass through.
func checkTokenExpiry(token string) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return fmt.Errorf("bridge token expired %s ago", time.Since(exp.Time).Round(time.Second))
	}
	return nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.CloseNow()
}
