package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Alert is one high-risk event pushed by GET /ws/alerts.
type Alert struct {
	Type        string    `json:"type"`
	CustomerID  string    `json:"customer_id"`
	Probability float64   `json:"probability"`
	Label       int       `json:"label"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertStream subscribes to the server's alert websocket.
type AlertStream struct {
	url        string
	maxBackoff time.Duration
}

// Alerts returns a stream for the server this client talks to.
func (c *Client) Alerts() *AlertStream {
	u := c.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &AlertStream{url: u + "/ws/alerts", maxBackoff: 30 * time.Second}
}

// Stream delivers alerts until ctx is done, reconnecting with exponential
// backoff whenever the connection drops.
func (s *AlertStream) Stream(ctx context.Context, alerts chan<- Alert) error {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		received, err := s.streamOnce(ctx, alerts)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			backoff = time.Second
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("Alert stream disconnected, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// streamOnce runs one connection. It reports whether any alert arrived.
func (s *AlertStream) streamOnce(ctx context.Context, alerts chan<- Alert) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(64 * 1024)
	log.Info().Str("url", s.url).Msg("Subscribed to alerts")

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	received := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Msg("Alert stream closed by server")
			}
			return received, fmt.Errorf("read message failed: %w", err)
		}

		var a Alert
		if err := json.Unmarshal(msg, &a); err != nil {
			log.Debug().Err(err).Str("message", string(msg)).Msg("Failed to parse alert")
			continue
		}
		received = true

		select {
		case alerts <- a:
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}
