package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/economy"
	"github.com/playrooms/backend/internal/game"
	"github.com/playrooms/backend/internal/models"
	"github.com/playrooms/backend/internal/registry"
	"github.com/playrooms/backend/internal/rooms"
)

const maxChatLength = 500

// Dispatcher routes client commands to game modules. Room-mutating commands
// run under the distributed room lock; reads, chat and spectating do not.
type Dispatcher struct {
	hub  *Hub
	reg  *registry.RoomRegistry
	econ *economy.Service
	db   *sqlx.DB
	rdb  *redis.Client
	cfg  *config.Config

	// instanceID filters this instance's own fan-out echoes.
	instanceID string
}

func NewDispatcher(hub *Hub, reg *registry.RoomRegistry, econ *economy.Service, db *sqlx.DB, rdb *redis.Client, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		hub:        hub,
		reg:        reg,
		econ:       econ,
		db:         db,
		rdb:        rdb,
		cfg:        cfg,
		instanceID: uuid.NewString(),
	}
}

// Handle processes one inbound message. Every message counts against the
// user's per-minute budget before any routing.
func (d *Dispatcher) Handle(c *Client, msg WSMessage) {
	ctx := context.Background()

	if n, err := d.reg.IncrRateLimit(ctx, c.userID, time.Minute); err == nil && n > int64(d.cfg.MessagesPerMinute) {
		c.sendError("RateLimited", "too many messages, slow down")
		return
	}

	switch msg.Type {
	case "create_room":
		d.handleCreateRoom(ctx, c, msg.Data)
	case "join_room":
		d.handleJoinRoom(ctx, c, msg.Data)
	case "leave_room":
		d.handleLeaveRoom(ctx, c)
	case "perform_action":
		d.handlePerformAction(ctx, c, msg.Data)
	case "get_state":
		d.handleGetState(ctx, c, msg.Data)
	case "get_legal_actions":
		d.handleGetLegalActions(ctx, c, msg.Data)
	case "chat":
		d.handleChat(ctx, c, msg.Data)
	case "spectate":
		d.handleSpectate(ctx, c, msg.Data)
	case "stop_spectating":
		d.handleStopSpectating(c)
	default:
		c.sendError("BadRequest", "unknown message type "+msg.Type)
	}
}

func (d *Dispatcher) handleCreateRoom(ctx context.Context, c *Client, data json.RawMessage) {
	var req struct {
		TemplateName string `json:"templateName"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.TemplateName == "" {
		c.sendError("BadRequest", "templateName required")
		return
	}

	var tpl models.RoomTemplate
	err := d.db.GetContext(ctx, &tpl, `
		SELECT id, name, game_type, max_players, entry_fee, config, is_public
		FROM room_templates WHERE name = $1`, req.TemplateName)
	if err != nil {
		c.sendError("NotFound", "unknown template "+req.TemplateName)
		return
	}
	rt, ok := game.Get(tpl.GameType)
	if !ok {
		c.sendError("NotFound", "game type "+tpl.GameType+" not available")
		return
	}

	roomID := rooms.NewRoomID()
	meta, err := rt.CreateRoom(ctx, &tpl, roomID)
	if err != nil {
		log.Printf("[WS] Create room from template %s failed: %v", req.TemplateName, err)
		c.sendError("Internal", "could not create room")
		return
	}

	announcement := map[string]any{
		"type":       "room_created",
		"roomId":     roomID,
		"gameType":   meta.GameType,
		"maxPlayers": meta.MaxPlayers,
		"entryFee":   meta.EntryFee,
		"isPublic":   meta.IsPublic,
	}
	c.sendJSON(announcement)
	if meta.IsPublic {
		d.broadcastLobby(ctx, announcement)
	}
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) {
	var req struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		c.sendError("BadRequest", "roomId required")
		return
	}
	roomID := req.RoomID

	rt, ok := d.resolveRuntime(ctx, roomID)
	if !ok {
		c.sendError("NotFound", "room not found")
		return
	}
	if err := d.lockRoom(ctx, roomID); err != nil {
		c.sendError("Busy", "room is busy, retry")
		return
	}
	defer d.reg.ReleaseLock(ctx, roomID)

	meta, err := rt.Meta(ctx, roomID)
	if err != nil {
		c.sendError(errCategory(err), "room not found")
		return
	}

	// A seated user joining again is a resubscribe, not a second entry.
	if seat, seated := meta.SeatOf(c.userID); seated {
		d.subscribe(c, roomID, false)
		view, _ := rt.View(ctx, roomID)
		c.sendJSON(map[string]any{"type": "room_joined", "roomId": roomID, "seat": seat, "state": view})
		return
	}

	// Fee first, seat second; an unusable reservation is refunded.
	res, txr, err := d.econ.Reserve(ctx, c.userID, meta.EntryFee, roomID)
	if err != nil {
		log.Printf("[WS] Reserve failed for user %s room %s: %v", c.userID, roomID, err)
		c.sendError("Internal", "entry fee reservation failed")
		return
	}
	if txr.Code != economy.Ok {
		c.sendError(txr.Code.String(), "entry fee reservation failed")
		return
	}

	seat, _, err := rt.Join(ctx, roomID, c.userID, c.username, res.ReservationID)
	if err != nil {
		if _, rerr := d.econ.Refund(ctx, res); rerr != nil {
			log.Printf("[WS] Compensating refund failed for user %s room %s: %v", c.userID, roomID, rerr)
		}
		c.sendError(errCategory(err), err.Error())
		return
	}

	d.subscribe(c, roomID, false)
	view, _ := rt.View(ctx, roomID)
	c.sendJSON(map[string]any{"type": "room_joined", "roomId": roomID, "seat": seat, "state": view})
	d.broadcastRoom(ctx, roomID, map[string]any{
		"type": "player_joined", "roomId": roomID,
		"userId": c.userID, "username": c.username, "seat": seat,
	})
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, c *Client) {
	roomID, _ := d.reg.UserRoom(ctx, c.userID)
	if roomID == "" {
		if spectated := d.hub.RoomOf(c); spectated != "" {
			d.hub.Unsubscribe(c)
			c.sendJSON(map[string]any{"type": "room_left", "roomId": spectated})
			return
		}
		c.sendError("NotSeated", "not in a room")
		return
	}

	if _, err := d.vacateSeat(ctx, c.userID, roomID); err != nil {
		c.sendError(errCategory(err), err.Error())
		return
	}
	d.hub.Unsubscribe(c)
	c.sendJSON(map[string]any{"type": "room_left", "roomId": roomID})
}

// vacateSeat releases a seat under the room lock: forfeit first when the
// game is running so the engine settles the departure, then the seat
// removal and, before a start, the entry-fee refund. Shared by the explicit
// leave command and grace-expiry eviction.
func (d *Dispatcher) vacateSeat(ctx context.Context, userID, roomID string) (*game.LeaveResult, error) {
	rt, ok := d.resolveRuntime(ctx, roomID)
	if !ok {
		return nil, game.ErrRoomNotFound
	}
	if err := d.lockRoom(ctx, roomID); err != nil {
		return nil, err
	}
	defer d.reg.ReleaseLock(ctx, roomID)

	meta, err := rt.Meta(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if meta.Started() {
		res, ferr := rt.Execute(ctx, roomID, game.Command{UserID: userID, Action: game.ActionForfeit})
		if ferr == nil {
			d.finishAction(ctx, roomID, res)
		} else if !errors.Is(ferr, game.ErrGameOver) {
			log.Printf("[WS] Forfeit on leave failed for user %s room %s: %v", userID, roomID, ferr)
		}
	}

	left, err := rt.Leave(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	if left.ReservationID != "" {
		res := &economy.Reservation{
			ReservationID: left.ReservationID,
			UserID:        userID,
			RoomID:        roomID,
			Fee:           meta.EntryFee,
		}
		if _, err := d.econ.Refund(ctx, res); err != nil {
			log.Printf("[WS] Entry fee refund failed for user %s room %s: %v", userID, roomID, err)
		}
	}

	d.broadcastRoom(ctx, roomID, map[string]any{
		"type": "player_left", "roomId": roomID, "userId": userID, "seat": left.Seat,
	})
	return left, nil
}

func (d *Dispatcher) handlePerformAction(ctx context.Context, c *Client, data json.RawMessage) {
	var req struct {
		RoomID    string         `json:"roomId"`
		Action    string         `json:"action"`
		Payload   map[string]any `json:"payload"`
		CommandID string         `json:"commandId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Action == "" {
		c.sendError("BadRequest", "action required")
		return
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID, _ = d.reg.UserRoom(ctx, c.userID)
	}
	if roomID == "" {
		d.actionError(c, req.CommandID, "NotFound", "no current room")
		return
	}

	if req.CommandID != "" {
		if seen, _ := d.reg.SeenCommand(ctx, roomID, req.CommandID); seen {
			log.Printf("[WS] Duplicate command %s for room %s dropped", req.CommandID, roomID)
			return
		}
	}

	rt, ok := d.resolveRuntime(ctx, roomID)
	if !ok {
		d.actionError(c, req.CommandID, "NotFound", "room not found")
		return
	}
	if err := d.lockRoom(ctx, roomID); err != nil {
		d.actionError(c, req.CommandID, "Busy", "room is busy, retry")
		return
	}
	defer d.reg.ReleaseLock(ctx, roomID)

	res, err := rt.Execute(ctx, roomID, game.Command{
		UserID:  c.userID,
		Action:  req.Action,
		Payload: req.Payload,
	})
	if err != nil {
		d.actionError(c, req.CommandID, errCategory(err), err.Error())
		return
	}

	d.finishAction(ctx, roomID, res)
	if req.CommandID != "" {
		d.reg.MarkCommand(ctx, roomID, req.CommandID)
	}
	c.sendJSON(map[string]any{"type": "action_result", "commandId": req.CommandID, "ok": true})
}

// finishAction settles a successful engine call: finalize entry fees on a
// start, broadcast state and events, and queue archival on terminal.
func (d *Dispatcher) finishAction(ctx context.Context, roomID string, res *game.ActionResult) {
	if res == nil {
		return
	}

	for _, ref := range res.CommitFees {
		err := d.econ.Commit(ctx, &economy.Reservation{
			ReservationID: ref.ReservationID,
			UserID:        ref.UserID,
			RoomID:        roomID,
			Fee:           ref.Fee,
		})
		if err != nil {
			log.Printf("[WS] Entry fee commit failed for user %s room %s: %v", ref.UserID, roomID, err)
		}
	}

	if res.ShouldBroadcast {
		d.broadcastRoom(ctx, roomID, map[string]any{"type": "game_state", "roomId": roomID, "state": res.View})
	}
	for _, ev := range res.Events {
		d.broadcastRoom(ctx, roomID, map[string]any{
			"type": "game_event", "roomId": roomID, "event": ev.Name, "data": ev.Data,
		})
	}

	if res.Terminal {
		d.stageGameEnded(ctx, roomID, res)
	}
}

// FinishTimeout publishes a scheduler-driven outcome exactly like a player
// action's: state, events, and archival staging when the auto-play ended
// the game.
func (d *Dispatcher) FinishTimeout(ctx context.Context, roomID string, res *game.ActionResult) {
	d.finishAction(ctx, roomID, res)
}

// stageGameEnded enqueues the archival hand-off, once per room.
func (d *Dispatcher) stageGameEnded(ctx context.Context, roomID string, res *game.ActionResult) {
	payload := buildGameEnded(roomID, res)
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WS] Marshal GameEnded for room %s failed: %v", roomID, err)
		return
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (event_type, payload, created_at)
		SELECT $1, $2, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM outbox_messages WHERE event_type = $1 AND payload->>'roomId' = $3
		)`, models.EventGameEnded, body, roomID)
	if err != nil {
		log.Printf("[WS] Stage GameEnded for room %s failed: %v", roomID, err)
		return
	}
	log.Printf("[WS] ✓ Game over in room %s, archival queued", roomID)
}

// buildGameEnded freezes the result into the archival payload, translating
// seat-level outcomes to user ids while the seat map is still complete.
func buildGameEnded(roomID string, res *game.ActionResult) models.GameEndedPayload {
	meta := res.Meta
	payload := models.GameEndedPayload{
		RoomID:      roomID,
		GameType:    meta.GameType,
		FinalState:  res.StateBytes,
		FinalView:   res.View,
		PlayerSeats: meta.PlayerSeats,
		Ranking:     res.WinnerRanking,
		TotalPot:    meta.Pot,
		StartedAt:   meta.StartedAt,
		EndedAt:     time.Now(),
	}
	if len(res.WinnerRanking) > 0 {
		payload.WinnerUserID = meta.UserAtSeat(res.WinnerRanking[0])
	}
	if len(res.Awards) > 0 {
		payload.Awards = make(map[string]int64, len(res.Awards))
		for seat, amount := range res.Awards {
			if userID := meta.UserAtSeat(seat); userID != "" {
				payload.Awards[userID] = amount
			}
		}
	}
	return payload
}

func (d *Dispatcher) handleGetState(ctx context.Context, c *Client, data json.RawMessage) {
	roomID := d.targetRoom(ctx, c, data)
	if roomID == "" {
		c.sendError("NotFound", "no current room")
		return
	}
	rt, ok := d.resolveRuntime(ctx, roomID)
	if !ok {
		c.sendError("NotFound", "room not found")
		return
	}
	view, err := rt.View(ctx, roomID)
	if err != nil {
		c.sendError(errCategory(err), "room not found")
		return
	}
	c.sendJSON(map[string]any{"type": "game_state", "roomId": roomID, "state": view})
}

func (d *Dispatcher) handleGetLegalActions(ctx context.Context, c *Client, data json.RawMessage) {
	roomID := d.targetRoom(ctx, c, data)
	if roomID == "" {
		c.sendError("NotFound", "no current room")
		return
	}
	rt, ok := d.resolveRuntime(ctx, roomID)
	if !ok {
		c.sendError("NotFound", "room not found")
		return
	}
	actions, err := rt.LegalActions(ctx, roomID, c.userID)
	if err != nil {
		c.sendError(errCategory(err), "room not found")
		return
	}
	if actions == nil {
		actions = []string{}
	}
	c.sendJSON(map[string]any{"type": "legal_actions", "roomId": roomID, "actions": actions})
}

func (d *Dispatcher) handleChat(ctx context.Context, c *Client, data json.RawMessage) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("BadRequest", "malformed chat message")
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		c.sendError("BadRequest", "empty message")
		return
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		c.sendError("BadRequest", "message too long")
		return
	}
	roomID := d.hub.RoomOf(c)
	if roomID == "" {
		c.sendError("NotSeated", "not in a room")
		return
	}
	d.broadcastRoom(ctx, roomID, map[string]any{
		"type": "chat_message", "roomId": roomID,
		"userId": c.userID, "username": c.username,
		"message": text, "sentAt": time.Now().Unix(),
	})
}

func (d *Dispatcher) handleSpectate(ctx context.Context, c *Client, data json.RawMessage) {
	var req struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		c.sendError("BadRequest", "roomId required")
		return
	}
	rt, ok := d.resolveRuntime(ctx, req.RoomID)
	if !ok {
		c.sendError("NotFound", "room not found")
		return
	}
	view, err := rt.View(ctx, req.RoomID)
	if err != nil {
		c.sendError(errCategory(err), "room not found")
		return
	}
	d.subscribe(c, req.RoomID, true)
	c.sendJSON(map[string]any{"type": "game_state", "roomId": req.RoomID, "state": view})
}

func (d *Dispatcher) handleStopSpectating(c *Client) {
	if !d.hub.IsSpectating(c) {
		c.sendError("BadRequest", "not spectating")
		return
	}
	roomID := d.hub.RoomOf(c)
	d.hub.Unsubscribe(c)
	c.sendJSON(map[string]any{"type": "room_left", "roomId": roomID})
}

// handleConnect wires a fresh connection back into its room: a grace slot is
// reclaimed atomically, otherwise the user-room index covers extra devices.
func (d *Dispatcher) handleConnect(c *Client) {
	ctx := context.Background()

	roomID, err := d.reg.ReclaimGrace(ctx, c.userID)
	if err != nil {
		log.Printf("[WS] Grace reclaim failed for user %s: %v", c.userID, err)
	}
	reclaimed := roomID != ""
	if roomID == "" {
		roomID, _ = d.reg.UserRoom(ctx, c.userID)
	}
	if roomID == "" {
		return
	}

	d.subscribe(c, roomID, false)
	if rt, ok := d.resolveRuntime(ctx, roomID); ok {
		if view, err := rt.View(ctx, roomID); err == nil {
			c.sendJSON(map[string]any{"type": "game_state", "roomId": roomID, "state": view})
		}
	}
	if reclaimed {
		d.broadcastRoom(ctx, roomID, map[string]any{
			"type": "player_reconnected", "roomId": roomID,
			"userId": c.userID, "username": c.username,
		})
		log.Printf("[WS] ✓ User %s reclaimed room %s within grace", c.userID, roomID)
	}
}

// handleDisconnect runs when a connection drops. Only the user's last
// connection opens the grace window.
func (d *Dispatcher) handleDisconnect(c *Client) {
	ctx := context.Background()

	n, err := d.reg.DecrConnections(ctx, c.userID)
	if err != nil {
		log.Printf("[WS] Connection count decrement failed for user %s: %v", c.userID, err)
	}
	if n > 0 {
		return
	}

	roomID, _ := d.reg.UserRoom(ctx, c.userID)
	if roomID == "" {
		return
	}

	grace := time.Duration(d.cfg.ReconnectGraceSeconds) * time.Second
	if err := d.reg.SetGrace(ctx, c.userID, roomID, grace+time.Second); err != nil {
		log.Printf("[WS] Set grace failed for user %s: %v", c.userID, err)
	}
	d.broadcastRoom(ctx, roomID, map[string]any{
		"type": "player_disconnected", "roomId": roomID,
		"userId": c.userID, "graceSeconds": d.cfg.ReconnectGraceSeconds,
	})
	go d.expireGrace(c.userID, roomID, grace)
}

func (d *Dispatcher) subscribe(c *Client, roomID string, spectating bool) {
	d.hub.Subscribe(c, roomID)
	d.hub.MarkSpectating(c, spectating)
}

func (d *Dispatcher) resolveRuntime(ctx context.Context, roomID string) (game.Runtime, bool) {
	gameType, err := d.reg.GameTypeOf(ctx, roomID)
	if err != nil || gameType == "" {
		return nil, false
	}
	return game.Get(gameType)
}

func (d *Dispatcher) lockRoom(ctx context.Context, roomID string) error {
	ttl := time.Duration(d.cfg.LockTTLSeconds) * time.Second
	return d.reg.AcquireLock(ctx, roomID, d.instanceID, ttl, 2*time.Second)
}

func (d *Dispatcher) actionError(c *Client, commandID, code, message string) {
	c.sendJSON(map[string]any{
		"type": "action_error", "commandId": commandID,
		"code": code, "message": message,
	})
}

func (d *Dispatcher) broadcastRoom(ctx context.Context, roomID string, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Marshal broadcast failed: %v", err)
		return
	}
	d.hub.BroadcastRawToRoom(roomID, data)
	d.publishFanout(ctx, scopeRoom, roomID, data)
}

func (d *Dispatcher) broadcastLobby(ctx context.Context, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Marshal lobby broadcast failed: %v", err)
		return
	}
	d.hub.BroadcastRawToLobby(data)
	d.publishFanout(ctx, scopeLobby, "", data)
}

// errCategory maps an error to the short category string clients see.
func errCategory(err error) string {
	switch {
	case errors.Is(err, game.ErrRoomNotFound), errors.Is(err, game.ErrUnknownGame):
		return "NotFound"
	case errors.Is(err, game.ErrRoomFull):
		return "RoomFull"
	case errors.Is(err, game.ErrAlreadyStarted):
		return "AlreadyStarted"
	case errors.Is(err, game.ErrNotSeated):
		return "NotSeated"
	case errors.Is(err, game.ErrNotYourTurn):
		return "NotYourTurn"
	case errors.Is(err, game.ErrGameOver):
		return "GameOver"
	case errors.Is(err, game.ErrGameNotActive):
		return "GameNotActive"
	case errors.Is(err, game.ErrInvalidAction):
		return "InvalidAction"
	case errors.Is(err, registry.ErrLockNotAcquired):
		return "Busy"
	default:
		return "Internal"
	}
}

// targetRoom resolves the room a read applies to: explicit id, else the
// user's seated room, else the spectated one.
func (d *Dispatcher) targetRoom(ctx context.Context, c *Client, data json.RawMessage) string {
	var req struct {
		RoomID string `json:"roomId"`
	}
	if len(data) > 0 {
		json.Unmarshal(data, &req)
	}
	if req.RoomID != "" {
		return req.RoomID
	}
	if roomID, _ := d.reg.UserRoom(ctx, c.userID); roomID != "" {
		return roomID
	}
	return d.hub.RoomOf(c)
}
