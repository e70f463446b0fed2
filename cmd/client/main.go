// Command client connects to a netcode server and drives one client
// engine, reading whitespace-separated action names from stdin (e.g.
// "thrust left") and sending them as input once per line.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"netcode/client"
	"netcode/config"
	"netcode/internal/demo"
	"netcode/logging"
	"netcode/protocol"
	"netcode/serialize"
	"netcode/sim"
	"netcode/strategy"
	"netcode/transport"
	"netcode/world"
)

func main() {
	addr := flag.String("addr", "localhost:7777", "server address to dial")
	transportName := flag.String("transport", "tcp", "transport to use: tcp or ws")
	strategyName := flag.String("strategy", "extrapolate", "sync strategy: extrapolate, interpolate, or framesync")
	flag.Parse()

	logger := logging.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := dial(ctx, *transportName, *addr)
	if err != nil {
		log.Fatalf("client: dial %s: %v", *addr, err)
	}

	playerID, err := awaitPlayerJoined(conn)
	if err != nil {
		log.Fatalf("client: handshake: %v", err)
	}
	logger.WithField("playerId", playerID).Info("joined")

	w := world.New()
	registry := demo.NewRegistry()
	engine := sim.New(w, demo.NewPhysics(w), demo.ApplyInput)

	strat, err := buildStrategy(*strategyName, w, engine, registry, playerID)
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	c := client.New(w, engine, registry, strat, conn, config.DefaultClientConfig(), logger)
	c.SetLocalPlayerID(playerID)

	go readInputLoop(ctx, c)

	if err := c.Serve(ctx); err != nil {
		logger.WithError(err).Warn("client stopped")
	}
}

func dial(ctx context.Context, name, addr string) (transport.Conn, error) {
	switch name {
	case "tcp":
		return transport.TCPDialer{}.Dial(ctx, addr)
	case "ws":
		return transport.WSDialer{}.Dial(ctx, addr)
	default:
		return nil, fmt.Errorf("client: unknown transport %q, want tcp or ws", name)
	}
}

// awaitPlayerJoined blocks for the server's handshake message, which
// arrives before any sync: the active Strategy is bound to a
// localPlayerID at construction time, so the id must be known before the
// rest of the client is built.
func awaitPlayerJoined(conn transport.Conn) (uint32, error) {
	payload, ok := <-conn.Receive()
	if !ok {
		return 0, fmt.Errorf("connection closed before playerJoined")
	}
	typ, body, err := protocol.Decode(payload)
	if err != nil {
		return 0, err
	}
	if typ != protocol.MsgPlayerJoined {
		return 0, fmt.Errorf("expected playerJoined, got message type %d", typ)
	}
	joined, err := protocol.DecodePlayerJoined(body)
	if err != nil {
		return 0, err
	}
	return joined.PlayerID, nil
}

// buildStrategy constructs the named Sync Strategy from its package
// default configuration, per spec.md §7's policy of returning
// ErrUnknownSyncStrategy for a name that isn't one of the three.
func buildStrategy(name string, w *world.World, engine *sim.Engine, registry *serialize.Registry, playerID uint32) (strategy.Strategy, error) {
	switch name {
	case "extrapolate":
		c := config.DefaultExtrapolateConfig()
		return strategy.NewExtrapolate(w, engine, registry, playerID, c.BendingIncrements, c.MaxReEnactSteps, c.LocalObjBending, c.RemoteObjBending), nil
	case "interpolate":
		c := config.DefaultInterpolateConfig()
		return strategy.NewInterpolate(w, engine, registry, playerID, c.BendingIncrements, c.LocalObjBending, c.RemoteObjBending, false), nil
	case "framesync":
		return strategy.NewFrameSync(w, engine, registry, playerID), nil
	default:
		return nil, fmt.Errorf("client: sync strategy %q: %w", name, strategy.ErrUnknownSyncStrategy)
	}
}

func readInputLoop(ctx context.Context, c *client.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		actions := map[string]bool{}
		for _, tok := range strings.Fields(scanner.Text()) {
			actions[tok] = true
		}
		if err := c.SendInput(actions); err != nil {
			log.Printf("client: send input: %v", err)
		}
	}
}
