// btpcd is the chain synchronization daemon: it maintains the header
// index, the ledger derived from the active chain, and connections to
// the peer network.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/btpcsuite/btpcd/chain"
	"github.com/btpcsuite/btpcd/config"
	"github.com/btpcsuite/btpcd/mempool"
	"github.com/btpcsuite/btpcd/netsync"
	"github.com/btpcsuite/btpcd/utxoset"
)

const (
	version   = "0.1.0"
	userAgent = "/btpcd:" + version + "/"
)

func main() {
	if err := run(); err != nil {
		if _, ok := err.(*flags.Error); !ok {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, network, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		fmt.Println("btpcd version", version)
		return nil
	}

	if cfg.MaxLogFiles > 0 {
		if err := initLogRotator(
			cfg.LogFile(), cfg.MaxLogFileSize, cfg.MaxLogFiles); err != nil {
			return err
		}
		defer logRotator.Close()
	}
	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	btpcdLog.Infof("btpcd %s starting on %s", version, network.Name)
	btpcdLog.Infof("data directory: %s", cfg.DataDir)

	headerDB, err := leveldb.OpenFile(filepath.Join(cfg.DataDir, "headers"), nil)
	if err != nil {
		return fmt.Errorf("open header db: %w", err)
	}
	defer headerDB.Close()

	utxoStore, err := utxoset.NewLevelDbStore(filepath.Join(cfg.DataDir, "utxostate"))
	if err != nil {
		return fmt.Errorf("open utxo store: %w", err)
	}
	defer utxoStore.Close()

	idx, err := chain.NewHeaderIndex(network.GenesisHeader(), headerDB)
	if err != nil {
		return fmt.Errorf("build header index: %w", err)
	}
	btpcdLog.Infof("header index loaded, best tip height %d", idx.BestTip().Height)

	// the ledger is rebuilt from the network on startup; bodies aren't
	// persisted yet
	if err := utxoStore.Clear(); err != nil {
		return err
	}

	pool := mempool.New(&mempool.Config{
		Params:           network.Consensus,
		VerifySignatures: true,
	})

	sm, err := netsync.New(&netsync.Config{
		Chain:             idx,
		Params:            network.Consensus,
		InitialDifficulty: network.InitialDifficulty,
		UtxoStore:         utxoStore,
		Mempool:           pool,
		RequestTimeout:    cfg.RequestTimeout,
		BanThreshold:      cfg.BanThreshold,
		UserAgent:         userAgent,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sm.Start(ctx); err != nil {
		return err
	}
	defer sm.Stop()

	for _, addr := range cfg.ConnectPeers {
		go dialPeer(ctx, sm, addr, network.Magic)
	}

	if !cfg.NoListen {
		listener, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
		}
		defer listener.Close()
		btpcdLog.Infof("listening on %s", listener.Addr())
		go acceptLoop(ctx, sm, listener, network.Magic, cfg.MaxPeers)
	}

	<-ctx.Done()
	btpcdLog.Info("shutting down")
	return nil
}

// dialPeer connects out to a configured peer, retrying with backoff
// until the daemon stops.
func dialPeer(ctx context.Context, sm *netsync.SyncManager, addr string, magic uint32) {
	backoff := 5 * time.Second
	for ctx.Err() == nil {
		conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
		if err == nil {
			_, err = sm.ConnectPeer(netsync.NewNetConn(conn, magic), false)
			if err == nil {
				return
			}
			conn.Close()
		}
		btpcdLog.Warnf("connect to %s failed: %v, retrying in %s",
			addr, err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Minute {
			backoff *= 2
		}
	}
}

// acceptLoop admits inbound peers up to the connection limit.
func acceptLoop(ctx context.Context, sm *netsync.SyncManager,
	listener net.Listener, magic uint32, maxPeers int) {

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				btpcdLog.Errorf("accept failed: %v", err)
			}
			return
		}
		if len(sm.Peers()) >= maxPeers {
			btpcdLog.Debugf("at connection limit, rejecting %s",
				conn.RemoteAddr())
			conn.Close()
			continue
		}
		if _, err := sm.ConnectPeer(netsync.NewNetConn(conn, magic), true); err != nil {
			btpcdLog.Warnf("register peer %s: %v", conn.RemoteAddr(), err)
			conn.Close()
		}
	}
}
