package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/xuhao2004/kimochi-sub000/internal/session"

	"github.com/gorilla/websocket"
)

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Listen subscribes to a room's push channel and feeds message events to
// the handler until the context is canceled or the connection drops.
// Delivery is best-effort; callers resync via ListMessages on reconnect.
func (c *Client) Listen(ctx context.Context, roomID uint, handler func([]session.ChatMessage)) error {
	wsBase := strings.Replace(c.base, "http", "ws", 1)
	endpoint := fmt.Sprintf("%s/ws/room/%d?token=%s", wsBase, roomID, c.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial room %d: %w", roomID, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var ev wsEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("ws: bad event: %v", err)
			continue
		}
		if ev.Type != "message" {
			continue
		}
		var msg session.ChatMessage
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			log.Printf("ws: bad message event: %v", err)
			continue
		}
		handler([]session.ChatMessage{msg})
	}
}
