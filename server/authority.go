// Package server implements the §4.6 Server Authority: the single
// process that owns the authoritative World, steps the Simulation
// Engine, and emits diffed syncs to every connected player.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"netcode/config"
	"netcode/logging"
	"netcode/protocol"
	"netcode/scheduler"
	"netcode/serialize"
	"netcode/sim"
	"netcode/transmit"
	"netcode/transport"
	"netcode/world"
)

// ErrUnknownRoom is returned by AssignPlayerToRoom for a room name that
// was never created, per spec.md §7's policy of logging and leaving the
// player in its current room.
var ErrUnknownRoom = errors.New("server: unknown room")

const lobbyRoom = "/lobby"

// player is the server's bookkeeping for one connected socket, matching
// spec.md's connectedPlayers entry.
type player struct {
	conn      transport.Conn
	sessionID uuid.UUID
	playerID  uint32
	roomName  string
	state     string

	lastSeen         time.Time
	lastHandledInput uint32

	tx *transmit.Transmitter
}

// room is spec.md's room API state: a named group of players and
// objects sharing one sync cadence.
type room struct {
	name                 string
	syncCounter          int
	requestImmediateSync bool
	requestFullSync      bool
	playerIDs            map[uint32]bool
	objectIDs            map[uint32]bool
}

// Authority runs the authoritative simulation loop and owns every piece
// of state spec.md's Concurrency & Resource Model reserves to the server
// task: objMemory (via each player's transmit.Transmitter), the input
// queues, connectedPlayers, and rooms.
type Authority struct {
	World    *world.World
	Sim      *sim.Engine
	Registry *serialize.Registry
	Config   config.ServerConfig
	log      *logrus.Entry

	listener transport.Listener

	mu                sync.Mutex
	players           map[uint32]*player
	rooms             map[string]*room
	playerInputQueues map[uint32]map[uint32][]sim.Input // playerID -> step -> inputs

	accept chan transport.Conn
	inbox  chan inboundMsg

	scheduler *scheduler.Scheduler
}

type inboundMsg struct {
	playerID uint32
	typ      protocol.MsgType
	payload  []byte
}

// New constructs an Authority bound to w/engine/registry, ready to Serve
// connections accepted by listener.
func New(w *world.World, engine *sim.Engine, registry *serialize.Registry, cfg config.ServerConfig, listener transport.Listener, logger *logrus.Logger) *Authority {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	a := &Authority{
		World:             w,
		Sim:               engine,
		Registry:          registry,
		Config:            cfg,
		log:               logging.Component(logger, "server"),
		listener:          listener,
		players:           make(map[uint32]*player),
		rooms:             make(map[string]*room),
		playerInputQueues: make(map[uint32]map[uint32][]sim.Input),
		accept:            make(chan transport.Conn),
		inbox:             make(chan inboundMsg, 256),
	}
	a.CreateRoom(lobbyRoom)
	a.scheduler = scheduler.New(1000/cfg.StepRate, a.tick, a.log)
	return a
}

// CreateRoom initializes a room with spec.md §4.6's defaults:
// syncCounter=0, requestImmediateSync=false.
func (a *Authority) CreateRoom(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.rooms[name]; exists {
		return
	}
	a.rooms[name] = &room{
		name:       name,
		playerIDs:  make(map[uint32]bool),
		objectIDs:  make(map[uint32]bool),
	}
}

// AssignObjectToRoom records that obj belongs to room name for sync
// fan-out purposes.
func (a *Authority) AssignObjectToRoom(objID uint32, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.rooms[name]
	if !ok {
		return
	}
	r.objectIDs[objID] = true
}

// AssignPlayerToRoom moves playerID into room name, requesting both an
// immediate and a full sync for that room (a fresh occupant has no prior
// diff baseline) and emitting roomUpdate to the player's socket and
// locally via log, per spec.md §4.6.
func (a *Authority) AssignPlayerToRoom(playerID uint32, name string) error {
	a.mu.Lock()
	r, ok := a.rooms[name]
	if !ok {
		a.mu.Unlock()
		a.log.WithField("room", name).Warn("assignPlayerToRoom: unknown room")
		return fmt.Errorf("server: assign player to room %q: %w", name, ErrUnknownRoom)
	}

	p, exists := a.players[playerID]
	if !exists {
		a.mu.Unlock()
		return nil
	}
	from := p.roomName
	if oldRoom, ok := a.rooms[from]; ok {
		delete(oldRoom.playerIDs, playerID)
	}
	p.roomName = name
	r.playerIDs[playerID] = true
	r.requestImmediateSync = true
	r.requestFullSync = true
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{"playerId": playerID, "from": from, "to": name}).Info("roomUpdate")
	msg := protocol.EncodeRoomUpdate(protocol.RoomUpdate{PlayerID: playerID, From: from, To: name})
	return p.conn.Send(protocol.Encode(protocol.MsgRoomUpdate, msg))
}

// Serve accepts connections and runs the authoritative step loop until
// ctx is cancelled.
func (a *Authority) Serve(ctx context.Context) error {
	go a.acceptLoop(ctx)

	go a.scheduler.Run(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return a.listener.Close()
		case conn := <-a.accept:
			a.handleConnect(conn)
		case msg := <-a.inbox:
			a.handleInbound(msg)
		case <-ticker.C:
			a.expireIdlePlayers()
		}
	}
}

func (a *Authority) acceptLoop(ctx context.Context) {
	for {
		conn, err := a.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.WithError(err).Warn("accept failed")
			continue
		}
		select {
		case a.accept <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// handleConnect implements spec.md §4.6's connection lifecycle: allocate
// a playerId (bumping world.playerCount), register the socket in
// connectedPlayers with state "new" and the default room, and announce
// playerJoined both locally and to the socket.
func (a *Authority) handleConnect(conn transport.Conn) {
	a.mu.Lock()
	playerID := a.World.PlayerCount() + 1
	a.World.SetPlayerCount(playerID)
	sessionID := uuid.New()

	p := &player{
		conn:      conn,
		sessionID: sessionID,
		playerID:  playerID,
		roomName:  lobbyRoom,
		state:     "new",
		lastSeen:  time.Now(),
		tx:        transmit.New(a.Registry),
	}
	a.players[playerID] = p
	a.rooms[lobbyRoom].playerIDs[playerID] = true
	a.rooms[lobbyRoom].requestFullSync = true
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{"playerId": playerID, "session": sessionID}).Info("playerJoined")

	joined := protocol.PlayerJoined{SessionID: sessionID.String(), PlayerID: playerID, JoinTime: time.Now().UnixMilli()}
	_ = conn.Send(protocol.Encode(protocol.MsgPlayerJoined, protocol.EncodePlayerJoined(joined)))

	go a.receiveLoop(playerID, conn)
}

// receiveLoop is the one legitimate concurrency boundary per spec.md
// §5: it only forwards bytes into the inbox channel, never touches
// shared state directly. All mutation happens on Serve's single
// goroutine when it drains the inbox.
func (a *Authority) receiveLoop(playerID uint32, conn transport.Conn) {
	for payload := range conn.Receive() {
		typ, body, err := protocol.Decode(payload)
		if err != nil {
			a.log.WithError(err).Warn("malformed message dropped")
			continue
		}
		a.inbox <- inboundMsg{playerID: playerID, typ: typ, payload: body}
	}
	a.inbox <- inboundMsg{playerID: playerID, typ: disconnectMsg}
}

// disconnectMsg is a sentinel typ value (outside protocol.MsgType's
// real range) the receive loop posts to the inbox when a Conn's receive
// channel closes, so connection teardown is handled on the same single
// goroutine as everything else.
const disconnectMsg protocol.MsgType = 255

func (a *Authority) handleInbound(msg inboundMsg) {
	switch msg.typ {
	case protocol.MsgMove:
		a.handleMove(msg.playerID, msg.payload)
	case protocol.MsgTrace:
		a.handleTrace(msg.payload)
	case protocol.MsgRTTQuery:
		a.handleRTTQuery(msg.playerID, msg.payload)
	case disconnectMsg:
		a.handleDisconnect(msg.playerID)
	}
}

// handleMove implements spec.md §4.6's input path: record
// lastHandledInput, reset the idle timer, and append the input to
// playerInputQueues[playerId][input.step], preserving arrival order for
// inputs that share a step.
func (a *Authority) handleMove(playerID uint32, payload []byte) {
	move, err := protocol.DecodeMove(payload)
	if err != nil {
		a.log.WithError(err).Warn("malformed move dropped")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.players[playerID]
	if !ok {
		return
	}
	p.lastHandledInput = move.MessageIndex
	p.lastSeen = time.Now()

	if a.playerInputQueues[playerID] == nil {
		a.playerInputQueues[playerID] = make(map[uint32][]sim.Input)
	}
	a.playerInputQueues[playerID][move.Step] = append(a.playerInputQueues[playerID][move.Step], sim.Input{
		PlayerID:     playerID,
		Step:         move.Step,
		MessageIndex: move.MessageIndex,
		Actions:      move.Actions,
	})
}

func (a *Authority) handleTrace(payload []byte) {
	if a.Config.TracesPath == "" {
		return
	}
	entries, err := protocol.DecodeTrace(payload)
	if err != nil {
		a.log.WithError(err).Warn("malformed trace batch dropped")
		return
	}
	for _, e := range entries {
		a.log.WithFields(logrus.Fields{"traceStep": e.Step, "traceTime": e.Time, "path": a.Config.TracesPath}).Debug(string(e.Data))
	}
}

func (a *Authority) handleRTTQuery(playerID uint32, payload []byte) {
	q, err := protocol.DecodeRTT(payload)
	if err != nil {
		return
	}
	a.mu.Lock()
	p, ok := a.players[playerID]
	a.mu.Unlock()
	if !ok {
		return
	}
	resp := protocol.RTT{ID: q.ID, SentAtUnixMs: time.Now().UnixMilli()}
	_ = p.conn.Send(protocol.Encode(protocol.MsgRTTResponse, protocol.EncodeRTT(resp)))
}

// handleDisconnect implements spec.md §4.6's disconnect path: emit
// playerDisconnected and delete the entry.
func (a *Authority) handleDisconnect(playerID uint32) {
	a.mu.Lock()
	p, ok := a.players[playerID]
	if ok {
		if r, ok := a.rooms[p.roomName]; ok {
			delete(r.playerIDs, playerID)
		}
		delete(a.players, playerID)
		delete(a.playerInputQueues, playerID)
	}
	a.mu.Unlock()

	if ok {
		a.log.WithField("playerId", playerID).Info("playerDisconnected")
	}
}

// expireIdlePlayers disconnects any socket that has not sent anything
// for Config.TimeoutInterval, dropping its pending inputs, per spec.md
// §5's cancellation/timeout rule.
func (a *Authority) expireIdlePlayers() {
	a.mu.Lock()
	var stale []uint32
	now := time.Now()
	for id, p := range a.players {
		if now.Sub(p.lastSeen) > a.Config.TimeoutInterval {
			stale = append(stale, id)
		}
	}
	a.mu.Unlock()

	for _, id := range stale {
		a.mu.Lock()
		p, ok := a.players[id]
		a.mu.Unlock()
		if ok {
			p.conn.Close()
		}
		a.handleDisconnect(id)
	}
}
