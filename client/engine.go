// Package client implements the §4.7 Client Engine: the local step loop
// that submits input, applies server syncs through an active Sync
// Strategy, and keeps its step counter from drifting too far from the
// server's.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"netcode/config"
	"netcode/logging"
	"netcode/protocol"
	"netcode/scheduler"
	"netcode/serialize"
	"netcode/sim"
	"netcode/strategy"
	"netcode/transport"
	"netcode/world"
)

// Engine drives one client's local simulation: it owns the World/Sim the
// active Strategy reconciles against, submits local input to the server,
// and applies incoming syncs.
type Engine struct {
	World    *world.World
	Sim      *sim.Engine
	Registry *serialize.Registry
	Strategy strategy.Strategy
	Conn     transport.Conn
	Config   config.ClientConfig
	log      *logrus.Entry

	scheduler *scheduler.Scheduler

	mu                sync.Mutex
	localPlayerID     uint32
	messageIndex      uint32
	recentInputs      map[uint32][]sim.Input // step -> inputs, for Extrapolate's re-enact
	highestServerStep uint32

	inbox chan envelope

	rttSeq  uint32
	rttSent map[uint32]time.Time
	rttMs   float64
}

type envelope struct {
	typ     protocol.MsgType
	payload []byte
}

// New constructs an Engine. strat is the already-built Sync Strategy
// (Extrapolate, Interpolate, or FrameSync) the caller selected per
// spec.md §7's UnknownSyncStrategy policy; localPlayerID is 0 until the
// server's playerJoined message assigns one.
func New(w *world.World, engine *sim.Engine, registry *serialize.Registry, strat strategy.Strategy, conn transport.Conn, cfg config.ClientConfig, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	e := &Engine{
		World:        w,
		Sim:          engine,
		Registry:     registry,
		Strategy:     strat,
		Conn:         conn,
		Config:       cfg,
		log:          logging.Component(logger, "client"),
		recentInputs: make(map[uint32][]sim.Input),
		inbox:        make(chan envelope, 256),
		rttSent:      make(map[uint32]time.Time),
	}
	e.scheduler = scheduler.New(1000/cfg.StepRate, e.tick, e.log)
	return e
}

// LocalPlayerID returns the id the server assigned this connection, or 0
// before the playerJoined handshake completes.
func (e *Engine) LocalPlayerID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localPlayerID
}

// SetLocalPlayerID records the id the server assigned this connection.
// Callers that consume the playerJoined handshake themselves before
// calling Serve (so the active Strategy, which is bound to a
// localPlayerID at construction time, can be built with the right id)
// use this to hand that id back to the Engine.
func (e *Engine) SetLocalPlayerID(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localPlayerID = id
}

// NeedsFirstSync reports whether the active strategy has applied its
// first server sync yet, per spec.md §4.7's handshake rule: local object
// additions that would conflict with the eventual first sync should be
// suppressed until this returns false.
func (e *Engine) NeedsFirstSync() bool {
	return e.Strategy.NeedsFirstSync()
}

// Serve forwards incoming transport messages into the engine's inbox and
// runs the local step loop until ctx is cancelled. Per spec.md §5's
// single-task model, only this goroutine and the one spawned here (which
// does nothing but decode and forward bytes) ever run concurrently; all
// dispatch and mutation happens inside tick, on the scheduler's goroutine.
func (e *Engine) Serve(ctx context.Context) error {
	go e.receiveLoop()
	e.scheduler.Run(ctx)
	return e.Conn.Close()
}

func (e *Engine) receiveLoop() {
	for payload := range e.Conn.Receive() {
		typ, body, err := protocol.Decode(payload)
		if err != nil {
			e.log.WithError(err).Warn("malformed message dropped")
			continue
		}
		e.inbox <- envelope{typ: typ, payload: body}
	}
}

// SendInput stamps actions with the next messageIndex and the current
// step (offset by Config.InputDelaySteps), applies it immediately to
// every object the local player owns (client-side prediction), buffers
// it for a later re-enact, and transmits it to the server.
func (e *Engine) SendInput(actions map[string]bool) error {
	step := e.World.StepCount() + uint32(e.Config.InputDelaySteps)

	e.mu.Lock()
	e.messageIndex++
	input := sim.Input{PlayerID: e.localPlayerID, Step: step, MessageIndex: e.messageIndex, Actions: actions}
	e.recentInputs[step] = append(e.recentInputs[step], input)
	playerID := e.localPlayerID
	e.mu.Unlock()

	for _, obj := range e.localObjects(playerID) {
		e.Sim.ProcessInput(obj, input)
	}

	move := protocol.Move{PlayerID: playerID, Step: step, MessageIndex: input.MessageIndex, Actions: actions}
	return e.Conn.Send(protocol.Encode(protocol.MsgMove, protocol.EncodeMove(move)))
}

func (e *Engine) localObjects(playerID uint32) []world.GameObject {
	return e.World.Query(func(obj world.GameObject) bool {
		pid, ok := obj.Owner()
		return ok && pid == playerID
	})
}

// tick runs one local step: drain whatever arrived since the last tick,
// advance the simulation, and let the active strategy advance any
// in-progress bending.
func (e *Engine) tick() {
	e.drainInbox()

	dt := 1.0 / float64(e.Config.StepRate)
	e.Sim.Step(false, float64(time.Now().UnixMilli())/1000, dt, false, nil, nil)
	e.Strategy.Tick(dt)

	if e.Config.RTTQueryIntervalSteps > 0 && e.World.StepCount()%uint32(e.Config.RTTQueryIntervalSteps) == 0 {
		e.sendRTTQuery()
	}
}

func (e *Engine) drainInbox() {
	for {
		select {
		case msg := <-e.inbox:
			e.handleInbound(msg)
		default:
			return
		}
	}
}

func (e *Engine) handleInbound(msg envelope) {
	switch msg.typ {
	case protocol.MsgPlayerJoined:
		e.handlePlayerJoined(msg.payload)
	case protocol.MsgWorldUpdate:
		e.handleWorldUpdate(msg.payload)
	case protocol.MsgRoomUpdate:
		e.handleRoomUpdate(msg.payload)
	case protocol.MsgRTTResponse:
		e.handleRTTResponse(msg.payload)
	}
}

func (e *Engine) handlePlayerJoined(payload []byte) {
	joined, err := protocol.DecodePlayerJoined(payload)
	if err != nil {
		e.log.WithError(err).Warn("malformed playerJoined dropped")
		return
	}
	e.mu.Lock()
	e.localPlayerID = joined.PlayerID
	e.mu.Unlock()
	e.log.WithField("playerId", joined.PlayerID).Info("playerJoined")
}

func (e *Engine) handleRoomUpdate(payload []byte) {
	update, err := protocol.DecodeRoomUpdate(payload)
	if err != nil {
		e.log.WithError(err).Warn("malformed roomUpdate dropped")
		return
	}
	e.log.WithFields(logrus.Fields{"from": update.From, "to": update.To}).Info("roomUpdate")
}

// handleWorldUpdate implements spec.md §4.7's sync intake: apply the
// payload through the active strategy, record highestServerStep,
// re-enact pending input on top of it if the strategy supports it, and
// run the step-drift discipline.
func (e *Engine) handleWorldUpdate(payload []byte) {
	step, err := e.Strategy.ApplyPayload(payload)
	if err != nil {
		e.log.WithError(err).Warn("apply sync failed")
		return
	}

	e.mu.Lock()
	if step > e.highestServerStep {
		e.highestServerStep = step
	}
	e.mu.Unlock()

	if extra, ok := e.Strategy.(*strategy.Extrapolate); ok {
		e.reenact(extra, step)
	}

	e.applyStepDrift(step)
}

// reenact gathers every buffered input for steps in [serverStep,
// localStep), replays it against every locally owned object via the
// Extrapolate strategy's own Reenact (which rewinds, replays, and bends),
// purges buffered input at or before serverStep, and restores stepCount
// to the local step it had before the replay.
func (e *Engine) reenact(extra *strategy.Extrapolate, serverStep uint32) {
	localStep := e.World.StepCount()

	e.mu.Lock()
	var pending []sim.Input
	for step := serverStep; step < localStep; step++ {
		pending = append(pending, e.recentInputs[step]...)
	}
	for step := range e.recentInputs {
		if step <= serverStep {
			delete(e.recentInputs, step)
		}
	}
	playerID := e.localPlayerID
	e.mu.Unlock()

	e.World.SetStepCount(serverStep)

	dt := 1.0 / float64(e.Config.StepRate)
	for _, obj := range e.localObjects(playerID) {
		extra.Reenact(obj, dt, pending)
	}

	e.World.SetStepCount(localStep)
}

// applyStepDrift compares the client's stepCount against
// serverStep+RTTEstimateSteps: a client running ahead delays its next
// tick, a client running behind hurries it, and a client lagging beyond
// ClientReset abandons correction and snaps stepCount outright, per
// spec.md §4.7 and the S6 scenario.
func (e *Engine) applyStepDrift(serverStep uint32) {
	localStep := int64(e.World.StepCount())
	target := int64(serverStep) + int64(e.Config.RTTEstimateSteps)
	lag := target - localStep

	if e.Config.ClientReset > 0 && lag > int64(e.Config.ClientReset) {
		e.log.WithFields(logrus.Fields{"localStep": localStep, "serverStep": serverStep, "lag": lag}).Warn("step drift exceeded clientReset, snapping")
		e.World.SetStepCount(serverStep)
		return
	}

	stepMs := 1000 / e.Config.StepRate
	switch {
	case lag > 0:
		e.scheduler.HurryTick(stepMs)
	case lag < 0:
		e.scheduler.DelayTick(stepMs)
	}
}

func (e *Engine) sendRTTQuery() {
	e.mu.Lock()
	e.rttSeq++
	id := e.rttSeq
	e.rttSent[id] = time.Now()
	e.mu.Unlock()

	q := protocol.RTT{ID: id, SentAtUnixMs: time.Now().UnixMilli()}
	if err := e.Conn.Send(protocol.Encode(protocol.MsgRTTQuery, protocol.EncodeRTT(q))); err != nil {
		e.log.WithError(err).Warn("rttQuery send failed")
	}
}

func (e *Engine) handleRTTResponse(payload []byte) {
	resp, err := protocol.DecodeRTT(payload)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sentAt, ok := e.rttSent[resp.ID]
	if !ok {
		return
	}
	delete(e.rttSent, resp.ID)

	sample := float64(time.Since(sentAt).Milliseconds())
	if e.rttMs == 0 {
		e.rttMs = sample
	} else {
		// Exponential smoothing, same 1/8 weight lance-derived netcode
		// stacks conventionally use for RTT estimation.
		e.rttMs = e.rttMs*0.875 + sample*0.125
	}
}

// RTTMillis returns the current smoothed round-trip estimate, or 0 before
// the first RTTResponse arrives.
func (e *Engine) RTTMillis() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rttMs
}

// HighestServerStep returns the highest step number any applied sync has
// carried so far.
func (e *Engine) HighestServerStep() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.highestServerStep
}
