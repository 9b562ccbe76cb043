// Copyright (c) 2024-2026 The lightspan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/go-socks/socks"
	flags "github.com/jessevdk/go-flags"

	"github.com/lightspan/lightspand/gossip"
	"github.com/lightspan/lightspand/lnwire"
	"github.com/lightspan/lightspand/payment"
)

const (
	defaultConfigFilename = "lightspand.conf"
	defaultLogFilename    = "lightspand.log"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
)

var (
	defaultHomeDir    = appDataDir()
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for lightspand.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	Proxy       string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser   string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass   string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`

	MaxConnections  int    `long:"maxconnections" description:"Number of parallel gossip sync peers"`
	AcceptThreshold int    `long:"acceptthreshold" description:"Peers that must corroborate a gossip fact before admission"`
	MessagesToAsk   int    `long:"messagestoask" description:"Short channel ids per gossip query batch"`
	ChunksToWait    int    `long:"chunkstowait" description:"Completed chunks batched per routing snapshot"`
	MinCapacityMsat uint64 `long:"mincapacity" description:"Minimum advertised channel capacity in msat to accept"`

	MinPHCCapacityMsat   uint64 `long:"minphccapacity" description:"Minimum hosted channel capacity in msat"`
	MaxPHCCapacityMsat   uint64 `long:"maxphccapacity" description:"Maximum hosted channel capacity in msat"`
	MaxPHCPerNode        int    `long:"maxphcpernode" description:"Hosted channels retained per node"`
	MinNormalChansForPHC int    `long:"minnormalchansforphc" description:"Graph adjacencies both hosted channel endpoints need"`

	MaxDirectionFailures   int    `long:"maxdirectionfailures" description:"Penalty count that excludes a channel direction from routing"`
	MaxStrangeNodeFailures int    `long:"maxstrangenodefailures" description:"Penalty count that excludes a node from routing"`
	MaxRemoteAttempts      int    `long:"maxremoteattempts" description:"Remote failures tolerated per payment shard"`
	MaxInChannelHtlcs      int    `long:"maxinchannelhtlcs" description:"Outgoing HTLC slots used per channel"`
	FailedChanRecoveryMins int    `long:"failedchanrecovery" description:"Minutes a failed channel capacity estimate takes to fully recover"`
	PaymentTimeoutMins     int    `long:"paymenttimeout" description:"Minutes a payment may wait for an offline channel"`
}

// defaultConfig returns the baseline configuration before file and command
// line overrides.
func defaultConfig() config {
	return config{
		ConfigFile:             defaultConfigFile,
		DataDir:                defaultDataDir,
		LogDir:                 defaultLogDir,
		DebugLevel:             "info",
		MaxConnections:         5,
		AcceptThreshold:        2,
		MessagesToAsk:          500,
		ChunksToWait:           4,
		MinCapacityMsat:        1_000_000,
		MinPHCCapacityMsat:     50_000_000,
		MaxPHCCapacityMsat:     100_000_000_000,
		MaxPHCPerNode:          2,
		MinNormalChansForPHC:   5,
		MaxDirectionFailures:   4,
		MaxStrangeNodeFailures: 5,
		MaxRemoteAttempts:      3,
		MaxInChannelHtlcs:      6,
		FailedChanRecoveryMins: 60,
		PaymentTimeoutMins:     15,
	}
}

// appDataDir returns the default home directory, mirroring the usual dotdir
// convention.
func appDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".lightspand")
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig() (*config, []string, error) {
	cfg := defaultConfig()

	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, nil, err
	}

	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		// A missing default config file is fine; an unreadable
		// explicit one is not.
		if _, ok := err.(*os.PathError); !ok ||
			preCfg.ConfigFile != defaultConfigFile {
			return nil, nil, err
		}
	}

	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	if cfg.AcceptThreshold >= cfg.MaxConnections {
		return nil, nil, fmt.Errorf("acceptthreshold (%d) must be "+
			"below maxconnections (%d)", cfg.AcceptThreshold,
			cfg.MaxConnections)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, err
	}
	return &cfg, remainingArgs, nil
}

// dialer returns the dial function peer connections use, routed through the
// configured SOCKS5 proxy when one is set.
func (cfg *config) dialer() func(network, addr string,
	timeout time.Duration) (net.Conn, error) {

	if cfg.Proxy == "" {
		return net.DialTimeout
	}
	proxy := &socks.Proxy{
		Addr:     cfg.Proxy,
		Username: cfg.ProxyUser,
		Password: cfg.ProxyPass,
	}
	return func(network, addr string, _ time.Duration) (net.Conn, error) {
		return proxy.Dial(network, addr)
	}
}

// gossipConfig converts the flat options into the sync engine's config.
func (cfg *config) gossipConfig() *gossip.Config {
	return &gossip.Config{
		MaxConnections:       cfg.MaxConnections,
		AcceptThreshold:      cfg.AcceptThreshold,
		MessagesToAsk:        cfg.MessagesToAsk,
		ChunksToWait:         cfg.ChunksToWait,
		MinCapacity:          lnwire.MilliSatoshi(cfg.MinCapacityMsat),
		MinPHCCapacity:       lnwire.MilliSatoshi(cfg.MinPHCCapacityMsat),
		MaxPHCCapacity:       lnwire.MilliSatoshi(cfg.MaxPHCCapacityMsat),
		MaxPHCPerNode:        cfg.MaxPHCPerNode,
		MinNormalChansForPHC: cfg.MinNormalChansForPHC,
	}
}

// paymentConfig converts the flat options into the payment engine's config.
func (cfg *config) paymentConfig() *payment.Config {
	return &payment.Config{
		MaxDirectionFailures:   cfg.MaxDirectionFailures,
		MaxStrangeNodeFailures: cfg.MaxStrangeNodeFailures,
		MaxRemoteAttempts:      cfg.MaxRemoteAttempts,
		MaxInChannelHtlcs:      cfg.MaxInChannelHtlcs,
		FailedChanRecoveryMsec: int64(cfg.FailedChanRecoveryMins) *
			60_000,
		PaymentTimeout: time.Duration(cfg.PaymentTimeoutMins) *
			time.Minute,
	}
}
