package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/playrooms/backend/internal/economy"
	"github.com/playrooms/backend/internal/models"
)

// ChannelRoomEvents carries room/lobby broadcasts across instances so that a
// room's members hear every event no matter which instance holds their
// sockets.
const ChannelRoomEvents = "room_events"

const (
	scopeRoom  = "room"
	scopeLobby = "lobby"
)

type fanoutEnvelope struct {
	Origin string          `json:"origin"`
	Scope  string          `json:"scope"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data"`
}

func (d *Dispatcher) publishFanout(ctx context.Context, scope, roomID string, data []byte) {
	body, err := json.Marshal(fanoutEnvelope{
		Origin: d.instanceID,
		Scope:  scope,
		RoomID: roomID,
		Data:   data,
	})
	if err != nil {
		return
	}
	if err := d.rdb.Publish(ctx, ChannelRoomEvents, body).Err(); err != nil {
		log.Printf("[WS] Fan-out publish failed: %v", err)
	}
}

// StartFanoutSubscriber relays broadcasts published by other instances into
// the local hub. Our own messages were already delivered locally, so echoes
// carrying our origin are skipped.
func (d *Dispatcher) StartFanoutSubscriber(ctx context.Context) {
	pubsub := d.rdb.Subscribe(ctx, ChannelRoomEvents)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.Println("[WS] room_events subscriber started")
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env fanoutEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Printf("[WS] Invalid fan-out payload: %v", err)
					continue
				}
				if env.Origin == d.instanceID {
					continue
				}
				switch env.Scope {
				case scopeRoom:
					d.hub.BroadcastRawToRoom(env.RoomID, env.Data)
				case scopeLobby:
					d.hub.BroadcastRawToLobby(env.Data)
				}
			}
		}
	}()
}

// StartPlayerUpdateConsumer pushes wallet changes to their users. The read
// side is bounded: a full buffer drops the oldest pending update, and
// deliveries coalesce per user on a 500 ms cadence so a payout burst cannot
// flood clients.
func (d *Dispatcher) StartPlayerUpdateConsumer(ctx context.Context) {
	pubsub := d.rdb.Subscribe(ctx, economy.ChannelPlayerUpdates)
	ch := pubsub.Channel()
	updates := make(chan models.PlayerUpdatedPayload, 100)

	go func() {
		defer pubsub.Close()
		log.Println("[WS] player_updates subscriber started")
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p models.PlayerUpdatedPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil || p.UserID == "" {
					continue
				}
				select {
				case updates <- p:
				default:
					// Full: evict the oldest, then try once more.
					select {
					case <-updates:
					default:
					}
					select {
					case updates <- p:
					default:
					}
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		pending := make(map[string]models.PlayerUpdatedPayload)
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-updates:
				pending[p.UserID] = p
			case <-ticker.C:
				for userID, p := range pending {
					d.hub.SendToUser(userID, map[string]any{
						"type":       "player_update",
						"userId":     p.UserID,
						"newCoins":   p.NewCoins,
						"username":   p.Username,
						"changeType": p.ChangeType,
					})
					delete(pending, userID)
				}
			}
		}
	}()
}
