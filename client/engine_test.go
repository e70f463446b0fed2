package client

import (
	"sync"
	"testing"
	"time"

	"netcode/config"
	"netcode/protocol"
	"netcode/serialize"
	"netcode/sim"
	"netcode/strategy"
	"netcode/transmit"
	"netcode/transport"
	"netcode/world"
)

type fakeConn struct {
	mu   sync.Mutex
	sent [][]byte

	recvCh chan []byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{recvCh: make(chan []byte, 16)}
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *fakeConn) Receive() <-chan []byte { return c.recvCh }
func (c *fakeConn) RemoteID() string       { return "fake" }
func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.recvCh)
	}
	return nil
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

var _ transport.Conn = (*fakeConn)(nil)

func newRegistry() *serialize.Registry {
	r := serialize.NewRegistry()
	r.Register("Ship", world.NewPhysicalObject2D("Ship").Scheme(), func() serialize.Instance {
		return world.NewPhysicalObject2D("Ship")
	})
	return r
}

// testHarness bundles an Engine with the World/Sim/registry its active
// Strategy shares, so tests never reconcile against a Strategy wired to a
// different World than the Engine itself operates on.
type testHarness struct {
	Engine   *Engine
	World    *world.World
	Sim      *sim.Engine
	Registry *serialize.Registry
	Conn     *fakeConn
}

func newHarness(t *testing.T, cfg config.ClientConfig, buildStrategy func(w *world.World, sEngine *sim.Engine, registry *serialize.Registry) strategy.Strategy) *testHarness {
	t.Helper()
	w := world.New()
	registry := newRegistry()
	sEngine := sim.New(w, nil, func(obj world.GameObject, input sim.Input) {
		phys := obj.(*world.PhysicalObject2D)
		phys.AngularVelocity++
	})
	strat := buildStrategy(w, sEngine, registry)
	conn := newFakeConn()
	e := New(w, sEngine, registry, strat, conn, cfg, nil)
	return &testHarness{Engine: e, World: w, Sim: sEngine, Registry: registry, Conn: conn}
}

func frameSyncFactory(localPlayerID uint32) func(*world.World, *sim.Engine, *serialize.Registry) strategy.Strategy {
	return func(w *world.World, sEngine *sim.Engine, registry *serialize.Registry) strategy.Strategy {
		return strategy.NewFrameSync(w, sEngine, registry, localPlayerID)
	}
}

func TestHandlePlayerJoinedSetsLocalPlayerID(t *testing.T) {
	h := newHarness(t, config.DefaultClientConfig(), frameSyncFactory(0))

	joined := protocol.EncodePlayerJoined(protocol.PlayerJoined{PlayerID: 7, JoinTime: time.Now().UnixMilli()})
	h.Conn.recvCh <- protocol.Encode(protocol.MsgPlayerJoined, joined)

	h.Engine.tick()

	if h.Engine.LocalPlayerID() != 7 {
		t.Fatalf("LocalPlayerID() = %d, want 7", h.Engine.LocalPlayerID())
	}
}

func TestSendInputAppliesLocallyAndTransmits(t *testing.T) {
	h := newHarness(t, config.DefaultClientConfig(), frameSyncFactory(1))
	h.Engine.mu.Lock()
	h.Engine.localPlayerID = 1
	h.Engine.mu.Unlock()

	obj := world.NewPhysicalObject2D("Ship")
	obj.SetOwner(1)
	h.World.Add(obj)

	if err := h.Engine.SendInput(map[string]bool{"thrust": true}); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	if obj.AngularVelocity != 1 {
		t.Fatalf("AngularVelocity = %v, want 1 (input should have applied locally)", obj.AngularVelocity)
	}

	msgs := h.Conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(msgs))
	}
	typ, body, err := protocol.Decode(msgs[0])
	if err != nil || typ != protocol.MsgMove {
		t.Fatalf("Decode: typ=%v err=%v, want MsgMove", typ, err)
	}
	move, err := protocol.DecodeMove(body)
	if err != nil {
		t.Fatalf("DecodeMove: %v", err)
	}
	if move.PlayerID != 1 || !move.Actions["thrust"] {
		t.Fatalf("got %+v", move)
	}
}

func TestApplyStepDriftSnapsWhenLagExceedsClientReset(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.ClientReset = 40
	cfg.RTTEstimateSteps = 2
	h := newHarness(t, cfg, frameSyncFactory(1))

	h.World.SetStepCount(200)

	h.Engine.applyStepDrift(260) // lag = 260+2-200 = 62 > 40

	if h.World.StepCount() != 260 {
		t.Fatalf("StepCount() = %d, want 260 (drift snap)", h.World.StepCount())
	}
}

func TestApplyStepDriftDoesNotSnapWithinThreshold(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.ClientReset = 40
	cfg.RTTEstimateSteps = 2
	h := newHarness(t, cfg, frameSyncFactory(1))

	h.World.SetStepCount(200)

	h.Engine.applyStepDrift(210) // lag = 210+2-200 = 12, within threshold

	if h.World.StepCount() != 200 {
		t.Fatalf("StepCount() = %d, want unchanged 200", h.World.StepCount())
	}
}

func TestReenactReplaysBufferedInputsAndAdvancesStepCount(t *testing.T) {
	var extra *strategy.Extrapolate
	h := newHarness(t, config.DefaultClientConfig(), func(w *world.World, sEngine *sim.Engine, registry *serialize.Registry) strategy.Strategy {
		extra = strategy.NewExtrapolate(w, sEngine, registry, 1, 10, 60, 0.1, 0.6)
		return extra
	})
	h.Engine.mu.Lock()
	h.Engine.localPlayerID = 1
	h.Engine.mu.Unlock()

	obj := world.NewPhysicalObject2D("Ship")
	obj.SetOwner(1)
	h.World.Add(obj)
	h.World.SetStepCount(5) // local is ahead of the server by a few steps

	h.Engine.mu.Lock()
	h.Engine.recentInputs[3] = []sim.Input{{PlayerID: 1, Step: 3, Actions: map[string]bool{"thrust": true}}}
	h.Engine.recentInputs[4] = []sim.Input{{PlayerID: 1, Step: 4, Actions: map[string]bool{"thrust": true}}}
	h.Engine.mu.Unlock()

	h.Engine.reenact(extra, 3)

	if h.World.StepCount() != 5 {
		t.Fatalf("StepCount() = %d, want 5 (restored to the local step after replay)", h.World.StepCount())
	}
	h.Engine.mu.Lock()
	_, stillBuffered3 := h.Engine.recentInputs[3]
	_, stillBuffered4 := h.Engine.recentInputs[4]
	h.Engine.mu.Unlock()
	if stillBuffered3 {
		t.Fatal("expected buffered input at serverStep to be purged")
	}
	if !stillBuffered4 {
		t.Fatal("expected buffered input past serverStep to survive for a future reenact")
	}
}

func TestHandleWorldUpdateRecordsHighestServerStep(t *testing.T) {
	h := newHarness(t, config.DefaultClientConfig(), frameSyncFactory(1))

	obj := world.NewPhysicalObject2D("Ship")
	obj.SetID(9)
	tx := transmit.New(h.Registry)
	if err := tx.QueueCreate(obj); err != nil {
		t.Fatalf("QueueCreate: %v", err)
	}
	payload, err := tx.SerializePayload(42)
	if err != nil {
		t.Fatalf("SerializePayload: %v", err)
	}

	h.Engine.handleWorldUpdate(payload)

	if h.Engine.HighestServerStep() != 42 {
		t.Fatalf("HighestServerStep() = %d, want 42", h.Engine.HighestServerStep())
	}
	if _, ok := h.World.Get(9); !ok {
		t.Fatal("expected object 9 to be created in the world")
	}
}

func TestRTTQueryRoundTripUpdatesEstimate(t *testing.T) {
	h := newHarness(t, config.DefaultClientConfig(), frameSyncFactory(1))

	h.Engine.sendRTTQuery()

	msgs := h.Conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(msgs))
	}
	typ, body, err := protocol.Decode(msgs[0])
	if err != nil || typ != protocol.MsgRTTQuery {
		t.Fatalf("Decode: typ=%v err=%v, want MsgRTTQuery", typ, err)
	}
	query, err := protocol.DecodeRTT(body)
	if err != nil {
		t.Fatalf("DecodeRTT: %v", err)
	}

	time.Sleep(time.Millisecond)
	resp := protocol.EncodeRTT(protocol.RTT{ID: query.ID, SentAtUnixMs: time.Now().UnixMilli()})
	h.Engine.handleRTTResponse(resp)

	if h.Engine.RTTMillis() <= 0 {
		t.Fatalf("RTTMillis() = %v, want > 0", h.Engine.RTTMillis())
	}
}
