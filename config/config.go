// Package config loads the daemon configuration from defaults, a
// config file, and command line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "btpcd.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btpcd.log"
	defaultDebugLevel     = "info"
	defaultMaxPeers       = 32
	defaultBanThreshold   = 100
	defaultRequestTimeout = 30 * time.Second
	defaultMaxLogFiles    = 10
	defaultMaxLogFileSize = 10 // MB
)

var (
	defaultHomeDir    = btcutil.AppDataDir("btpcd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
)

// Config holds every knob the daemon takes.  Field tags drive both the
// command line and the config file parser.
type Config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	TestNet bool `long:"testnet" description:"Use the test network"`
	RegTest bool `long:"regtest" description:"Use the regression test network"`

	Listen         string        `long:"listen" description:"Interface/port to listen for connections (default all interfaces, network-specific port)"`
	ConnectPeers   []string      `long:"connect" description:"Connect to peer at startup (may be repeated)"`
	MaxPeers       int           `long:"maxpeers" description:"Max number of peers to maintain"`
	NoListen       bool          `long:"nolisten" description:"Disable listening for inbound connections"`
	BanThreshold   uint32        `long:"banthreshold" description:"Misbehavior score that disconnects a peer"`
	RequestTimeout time.Duration `long:"requesttimeout" description:"How long a block request may stay unanswered"`

	MaxLogFiles    int `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
}

// DefaultConfig returns the config before files and flags are applied.
func DefaultConfig() Config {
	return Config{
		ConfigFile:     defaultConfigFile,
		DataDir:        defaultHomeDir,
		DebugLevel:     defaultDebugLevel,
		MaxPeers:       defaultMaxPeers,
		BanThreshold:   defaultBanThreshold,
		RequestTimeout: defaultRequestTimeout,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
	}
}

// LoadConfig parses the command line and config file and resolves the
// target network.  The returned config has normalized absolute paths
// and a created data directory.
func LoadConfig() (*Config, *Network, error) {
	preCfg := DefaultConfig()
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := preParser.Parse(); err != nil {
		return nil, nil, err
	}

	cfg := preCfg
	parser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		// a missing config file is fine unless the user pointed at it
		if _, ok := err.(*os.PathError); !ok {
			return nil, nil, err
		}
		if preCfg.ConfigFile != defaultConfigFile {
			return nil, nil, err
		}
	}

	// flags override the file
	if _, err := parser.Parse(); err != nil {
		return nil, nil, err
	}

	if cfg.TestNet && cfg.RegTest {
		return nil, nil, fmt.Errorf("testnet and regtest are mutually exclusive")
	}
	network := &MainNet
	switch {
	case cfg.TestNet:
		network = &TestNet
	case cfg.RegTest:
		network = &RegTest
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, network.Name)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, defaultLogDirname)
	} else {
		cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	if cfg.Listen == "" {
		cfg.Listen = fmt.Sprintf(":%d", network.DefaultPort)
	}
	return &cfg, network, nil
}

// LogFile returns the rotated log file path for the loaded config.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// cleanAndExpandPath expands ~ and environment variables in a path.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
