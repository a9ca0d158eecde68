package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/btpcsuite/btpcd/chain"
	"github.com/btpcsuite/btpcd/consensus"
	"github.com/btpcsuite/btpcd/mempool"
	"github.com/btpcsuite/btpcd/netsync"
	"github.com/btpcsuite/btpcd/utxoset"
)

// logWriter duplicates log output to stdout and the rotated log file.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is nil until initLogRotator runs.
	logRotator *rotator.Rotator

	btpcdLog = backendLog.Logger("BTPC")
	chanLog  = backendLog.Logger("CHAN")
	cnssLog  = backendLog.Logger("CNSS")
	mempLog  = backendLog.Logger("MEMP")
	syncLog  = backendLog.Logger("SYNC")
	utxoLog  = backendLog.Logger("UTXO")
)

// subsystemLoggers maps each subsystem to its logger.
var subsystemLoggers = map[string]btclog.Logger{
	"BTPC": btpcdLog,
	"CHAN": chanLog,
	"CNSS": cnssLog,
	"MEMP": mempLog,
	"SYNC": syncLog,
	"UTXO": utxoLog,
}

func init() {
	chain.UseLogger(chanLog)
	consensus.UseLogger(cnssLog)
	mempool.UseLogger(mempLog)
	netsync.UseLogger(syncLog)
	utxoset.UseLogger(utxoLog)
}

// initLogRotator starts the rotated log file.  Rotation is disabled
// when maxFiles is zero.
func initLogRotator(logFile string, maxFileSizeMB, maxFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	r, err := rotator.New(logFile, int64(maxFileSizeMB*1024), false, maxFiles)
	if err != nil {
		return fmt.Errorf("create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// setLogLevels applies one level to every subsystem.
func setLogLevels(levelName string) error {
	level, ok := btclog.LevelFromString(levelName)
	if !ok {
		return fmt.Errorf("invalid debug level %q", levelName)
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
	return nil
}
