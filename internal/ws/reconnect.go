package ws

import (
	"context"
	"log"
	"time"
)

// expireGrace is the deferred disconnect check. It fires once the grace
// window has fully passed; a user with live connections again, or who
// already moved rooms, is left alone. The disconnect lock keeps concurrent
// checks for the same user from double-evicting.
func (d *Dispatcher) expireGrace(userID, roomID string, grace time.Duration) {
	time.Sleep(grace + 2*time.Second)
	ctx := context.Background()

	ok, err := d.reg.AcquireDisconnectLock(ctx, userID, 5*time.Second)
	if err != nil || !ok {
		return
	}
	defer d.reg.ReleaseDisconnectLock(ctx, userID)

	if n, _ := d.reg.Connections(ctx, userID); n > 0 {
		return
	}
	if current, _ := d.reg.UserRoom(ctx, userID); current != roomID {
		return
	}
	// Drop any slot that outlived its window.
	d.reg.ReclaimGrace(ctx, userID)

	log.Printf("[WS] Grace expired for user %s, releasing seat in room %s", userID, roomID)
	if _, err := d.vacateSeat(ctx, userID, roomID); err != nil {
		log.Printf("[WS] Grace eviction failed for user %s room %s: %v", userID, roomID, err)
	}
}
