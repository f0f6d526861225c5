// Command chronicled wires a Proposer to a gRPC-exposed local Agent, a
// client-facing command-submission service, and a kvrsm key/value
// machine, as a minimal worked example of the module — not a
// production deployment shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dave-finlay/chronicle"
	"github.com/dave-finlay/chronicle/agentrpc"
	"github.com/dave-finlay/chronicle/kvrsm"
	"google.golang.org/grpc"
)

func main() {
	var (
		selfID     = flag.String("self", "", "this node's peer id")
		listenAddr = flag.String("listen", ":7070", "address to serve the local Agent on")
		peersFlag  = flag.String("peers", "", "comma-separated id=addr pairs for the initial voter set")
		logLevel   = flag.String("log-level", "info", "debug, info, warn, or error")
	)
	flag.Parse()

	if *selfID == "" {
		fmt.Fprintln(os.Stderr, "chronicled: -self is required")
		os.Exit(2)
	}

	logger := chronicle.NewLogger(*logLevel)
	defer logger.Sync()

	voters, remotes, err := parsePeers(*peersFlag, *selfID)
	if err != nil {
		logger.Fatalw("failed to parse -peers", "error", err)
	}

	localAgent := newInMemoryAgent(chronicle.Config{
		Voters:        voters,
		StateMachines: map[string]chronicle.RsmConfig{"kv": {Name: "kv"}},
	})

	agents := map[chronicle.Peer]chronicle.Agent{chronicle.Peer(*selfID): localAgent}
	for id, addr := range remotes {
		agents[id] = agentrpc.NewRemoteAgent(addr)
	}

	// NewProposer only builds the state machine; it does not start the
	// actor goroutine. Building it here, before Serve, lets clientAPIImpl
	// hold a live *chronicle.Proposer from the moment the server starts
	// accepting connections.
	proposer := chronicle.NewProposer(chronicle.ProposerConfig{
		Self:           chronicle.Peer(*selfID),
		History:        chronicle.HistoryId("chronicled"),
		Term:           chronicle.Term{Number: 1, Tiebreaker: *selfID},
		Agents:         agents,
		CatchupStarter: noCatchupStarter{},
		RsmFactory:     kvrsm.Factory,
		OnReady: func() {
			logger.Infow("proposer ready", "self", *selfID)
		},
	}, chronicle.WithLogger(logger))

	grpcServer := grpc.NewServer()
	agentrpc.Register(grpcServer, &agentrpc.Server{Agent: localAgent})
	registerClientAPI(grpcServer, proposer, localAgent)
	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Fatalw("failed to listen", "error", err)
	}
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			logger.Warnw("grpc server stopped", "error", err)
		}
	}()

	done := proposer.Run()

	sigCh := terminalSignalCh()
	select {
	case sig := <-sigCh:
		logger.Infow("received signal, stopping", "signal", sig.String())
		proposer.Stop()
	case reason := <-done:
		logger.Infow("proposer terminated", "reason", string(reason))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	grpcServer.GracefulStop()
}

// terminalSignalCh returns a channel notified on signals that usually
// indicate the terminal of a process.
func terminalSignalCh() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return ch
}

func parsePeers(spec string, self string) (map[chronicle.Peer]struct{}, map[chronicle.Peer]string, error) {
	voters := map[chronicle.Peer]struct{}{chronicle.Peer(self): {}}
	remotes := map[chronicle.Peer]string{}
	if spec == "" {
		return voters, remotes, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("malformed peer entry %q, want id=addr", pair)
		}
		id, addr := chronicle.Peer(parts[0]), parts[1]
		voters[id] = struct{}{}
		if string(id) != self {
			remotes[id] = addr
		}
	}
	return voters, remotes, nil
}

// noCatchupStarter never provides bulk catch-up: every CatchupPeer call
// fails, so a peer whose next needed entry is already committed stays
// behind while replicate() keeps handing it back to catchup. Adequate
// for this worked example; a real deployment supplies a CatchupStarter
// backed by a snapshot-streaming transport.
type noCatchupStarter struct{}

func (noCatchupStarter) Start(ctx context.Context, history chronicle.HistoryId, term chronicle.Term) (chronicle.Catchup, error) {
	return noCatchup{}, nil
}

type noCatchup struct{}

func (noCatchup) CatchupPeer(ctx context.Context, opaque uint64, peer chronicle.Peer, fromSeqno chronicle.Seqno) error {
	return fmt.Errorf("chronicled: catchup not configured")
}
func (noCatchup) CancelCatchup(peer chronicle.Peer) error { return nil }
func (noCatchup) Stop()                                   {}
