package ws

import (
	"context"
	"time"

	"realtime-chat/internal/observability"
)

func connKind(c *Conn) string {
	if _, isDM := c.Channel(); isDM {
		return "dm"
	}
	return "channel"
}

// publishConnEvent emits a socket lifecycle event (ws_connect, ws_disconnect,
// ws_error) to the event exchange and bumps the matching counter.
func publishConnEvent(ctx context.Context, c *Conn, event, reason string) {
	kind := connKind(c)
	channelID, _ := c.Channel()

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"channel_id":  channelID,
			"event":       event,
			"conn_id":     c.ConnID,
			"duration_ms": time.Since(c.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   c.UserID(),
			"device_id": c.DeviceID,
			"ip":        c.IP,
		},
	}

	headers := observability.BuildHeaders(c.RequestID, c.TraceID)
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(kind, event)
}

func wsRoutingKey(kind string) string {
	if kind == "dm" {
		return "ws_events.dms"
	}
	return "ws_events.channels"
}
