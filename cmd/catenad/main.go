/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command catenad runs a Catena node: it mines and/or follows a
// permissioned SQL blockchain, gossiping blocks and transactions with
// peers over WebSocket and serving a query endpoint for clients. Flag
// parsing and startup sequencing follow the teacher's cmd/covenantsqld
// and cmd/miner shape: package-level flag vars registered in init,
// config load, component construction, signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/Alalun/catena/conf"
	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/exec"
	"github.com/Alalun/catena/gossip"
	"github.com/Alalun/catena/ledger"
	"github.com/Alalun/catena/log"
	"github.com/Alalun/catena/mempool"
	"github.com/Alalun/catena/metric"
	"github.com/Alalun/catena/node"
	"github.com/Alalun/catena/queryendpoint"
	"github.com/Alalun/catena/restapi"
	"github.com/Alalun/catena/storage"
)

const name = "catenad"

// joinList collects repeated -j/--join flag occurrences.
type joinList []string

func (j *joinList) String() string { return strings.Join(*j, ",") }
func (j *joinList) Set(v string) error {
	*j = append(*j, v)
	return nil
}

var (
	fs = flag.NewFlagSet(name, flag.ContinueOnError)

	databaseFile     string
	inMemoryDatabase bool
	seed             string
	gossipPort       int
	queryPort        int
	joinAddrs        joinList
	mine             bool
	initialize       bool
	noReplay         bool
	nodeDatabaseFile string
	nodeUUID         string
	noLocalDiscovery bool
	noWebClient      bool
	noPQServer       bool
	showIdentity     bool
	allowedDomains   joinList
	logLevel         string
)

func stringFlag(p *string, def, usage string, names ...string) {
	for _, n := range names {
		fs.StringVar(p, n, def, usage)
	}
}

func boolFlag(p *bool, def bool, usage string, names ...string) {
	for _, n := range names {
		fs.BoolVar(p, n, def, usage)
	}
}

func intFlag(p *int, def int, usage string, names ...string) {
	for _, n := range names {
		fs.IntVar(p, n, def, usage)
	}
}

func init() {
	stringFlag(&databaseFile, conf.DefaultChainDatabase, "chain-state database file", "d", "database")
	boolFlag(&inMemoryDatabase, false, "use an in-memory chain-state database instead of --database", "in-memory-database")
	stringFlag(&seed, "", "genesis seed used when mining a fresh chain", "s", "seed")
	intFlag(&gossipPort, conf.DefaultGossipPort, "gossip server bind port", "p", "gossip-port")
	intFlag(&queryPort, 0, "query endpoint bind port (default gossip-port+1)", "q", "query-port")
	fs.Var(&joinAddrs, "j", "gossip peer URL to join at startup (repeatable)")
	fs.Var(&joinAddrs, "join", "gossip peer URL to join at startup (repeatable)")
	boolFlag(&mine, false, "mine new blocks", "m", "mine")
	boolFlag(&initialize, false, "truncate the chain database and peer table before starting", "i", "initialize")
	boolFlag(&noReplay, false, "skip rebuilding the ledger from the archived block history", "n", "no-replay")
	stringFlag(&nodeDatabaseFile, conf.DefaultNodeDatabase, "node identity/peer database file", "node-database")
	stringFlag(&nodeUUID, "", "override the persisted node UUID", "node-uuid")
	boolFlag(&noLocalDiscovery, false, "disable local peer discovery", "no-local-discovery")
	boolFlag(&noWebClient, false, "disable the bundled web client", "no-web-client")
	boolFlag(&noPQServer, false, "disable the query endpoint", "no-pq-server")
	boolFlag(&showIdentity, false, "print this node's public key and UUID, then exit", "show-identity")
	fs.Var(&allowedDomains, "allow-domain", "origin allowed to open a gossip/query connection (repeatable)")
	stringFlag(&logLevel, "info", "log level: debug, verbose, info, warning", "v", "log")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [arguments]\n", name)
		fs.PrintDefaults()
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

func main() {
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(64)
	}
	setLogLevel(logLevel)

	if queryPort == 0 {
		queryPort = gossipPort + 1
	}

	nodeStore, err := storage.OpenNodeStore(nodeDatabaseFile)
	if err != nil {
		log.WithError(err).Fatalf("open node database")
	}

	if initialize {
		if !inMemoryDatabase {
			os.Remove(databaseFile)
		}
		if err := nodeStore.TruncatePeers(); err != nil {
			log.WithError(err).Fatalf("truncate peer table")
		}
	}

	identityRecord, err := loadOrCreateIdentity(nodeStore, seed)
	if err != nil {
		log.WithError(err).Fatalf("load node identity")
	}

	if showIdentity {
		fmt.Printf("uuid: %s\npublicKey: %s\n", identityRecord.UUID, identityRecord.PublicKey)
		return
	}
	if nodeUUID != "" {
		identityRecord.UUID = nodeUUID
	}

	priv, err := identity.PrivateKeyFromHex(identityRecord.PrivateKey)
	if err != nil {
		log.WithError(err).Fatalf("parse persisted private key")
	}

	chainDSN := databaseFile
	if inMemoryDatabase {
		chainDSN = "file::memory:?cache=shared"
	}
	meta, err := storage.OpenMetadata(chainDSN)
	if err != nil {
		log.WithError(err).Fatalf("open chain database")
	}

	executive := exec.New(meta)

	var minerKey *identity.PrivateKey
	if mine {
		minerKey = priv
	}

	led := buildLedger(meta, executive, conf.DefaultDifficulty, noReplay)

	n := node.New(node.Options{
		UUID:        identityRecord.UUID,
		Difficulty:  conf.DefaultDifficulty,
		GenesisSeed: identityRecord.GenesisSeed,
		Ledger:      led,
		Mempool:     mempool.New(),
		Exec:        executive,
		MinerKey:    minerKey,
		GossipPort:  gossipPort,
	})

	origins := map[string]bool{}
	for _, d := range allowedDomains {
		origins[d] = true
	}
	gossipServer := &gossip.Server{
		SelfUUID:       n.UUID,
		AllowedOrigins: origins,
		OnAccept:       n.AcceptPeer,
		Handler:        n.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persistedPeers, err := nodeStore.Peers()
	if err != nil {
		log.WithError(err).Warnf("load persisted peers")
	}
	joinTargets := append(append([]string{}, persistedPeers...), joinAddrs...)
	if len(joinTargets) > 0 {
		go n.Join(ctx, joinTargets)
	}

	metricStop := make(chan struct{})
	defer close(metricStop)
	metric.LogEvery(5*time.Minute, metricStop)

	go n.Run(ctx)
	if mine {
		n.StartMining(ctx)
	}

	go func() {
		if err := gossipServer.Serve(fmt.Sprintf(":%d", gossipPort)); err != nil {
			log.WithError(err).Errorf("gossip server stopped")
		}
	}()

	if !noPQServer {
		qe := &queryendpoint.Server{Exec: executive, Meta: meta, Mempool: n.Mempool}
		go func() {
			if err := qe.ListenAndServe(fmt.Sprintf(":%d", queryPort)); err != nil {
				log.WithError(err).Errorf("query endpoint stopped")
			}
		}()
	}

	if !noWebClient {
		api := &restapi.Server{PublicKey: priv.PubKey(), UUID: n.UUID, Ledger: led}
		go func() {
			if err := api.Serve(fmt.Sprintf(":%d", queryPort+1)); err != nil {
				log.WithError(err).Errorf("rest api stopped")
			}
		}()
	}

	waitForShutdown()

	n.StopMining()
	n.Stop()
	gossipServer.Shutdown()
	persistPeers(nodeStore, n)
	log.Infof("%s stopped", name)
}

// persistPeers records every address the node currently knows about, so
// the next run's Join list starts from where this run left off.
func persistPeers(store *storage.NodeStore, n *node.Node) {
	for _, addr := range n.Handler().PeerAddrs() {
		if err := store.AddPeer(addr, ""); err != nil {
			log.WithError(err).Warnf("persist peer %s", addr)
		}
	}
}

func waitForShutdown() {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh
}

// loadOrCreateIdentity returns the node's persisted identity, generating
// and saving a fresh Ed25519 keypair and UUID the first time a node
// database is opened. Persisting the UUID here (rather than letting
// node.New mint one every run) is what makes a restarted node keep
// presenting the same identity to its peers.
func loadOrCreateIdentity(store *storage.NodeStore, seed string) (storage.Identity, error) {
	id, err := store.LoadIdentity()
	if err != nil {
		return id, err
	}
	if id.PrivateKey != "" {
		if seed != "" {
			id.GenesisSeed = seed
		}
		return id, nil
	}

	priv, _, err := identity.GenerateKeyPair()
	if err != nil {
		return id, err
	}
	generatedUUID := uuid.NewV4()
	id = storage.Identity{
		PublicKey:   priv.PubKey().Hex(),
		PrivateKey:  priv.Hex(),
		UUID:        generatedUUID.String(),
		GenesisSeed: seed,
	}
	if err := store.SaveIdentity(id); err != nil {
		return id, err
	}
	return id, nil
}

// buildLedger constructs the ledger and its replay-queue listener,
// resolving the circular dependency between the two (the queue needs the
// ledger to walk chains on a deep rewind; the ledger needs the queue as
// its Listener) with a small indirection that binds after both exist. If
// noReplay is false, every archived block is replayed into the fresh
// ledger before it starts serving.
func buildLedger(meta *storage.Metadata, applier *exec.Executive, difficulty int, noReplay bool) *ledger.Ledger {
	src := &ledgerSource{}
	queue := newReplayQueue(applier, src, difficulty)
	led, err := ledger.New(difficulty, queue)
	if err != nil {
		log.WithError(err).Fatalf("create ledger")
	}
	src.ledger = led

	if !noReplay {
		blocks, err := meta.Blocks()
		if err != nil {
			log.WithError(err).Fatalf("load archived blocks")
		}
		for _, b := range blocks {
			if err := led.Receive(b); err != nil {
				log.WithError(err).Warnf("replay archived block %d", b.Index)
			}
		}
	}
	return led
}
