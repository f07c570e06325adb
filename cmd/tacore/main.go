package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tacoreio/tacore/pkg/audit"
	"github.com/tacoreio/tacore/pkg/broker"
	"github.com/tacoreio/tacore/pkg/config"
	"github.com/tacoreio/tacore/pkg/core"
	"github.com/tacoreio/tacore/pkg/monitor"
)

// fileConfig is the YAML schema of the broker daemon. Every field can be
// overridden through TACORE_* environment variables.
type fileConfig struct {
	Broker struct {
		FrontendAddr       string          `yaml:"frontend_addr"`
		BackendAddr        string          `yaml:"backend_addr"`
		HeartbeatInterval  config.Duration `yaml:"heartbeat_interval"`
		HeartbeatTimeout   config.Duration `yaml:"heartbeat_timeout"`
		MaxPendingRequests int             `yaml:"max_pending_requests"`
		MaxFrameSize       int             `yaml:"max_frame_size"`
	} `yaml:"broker"`
	Monitor struct {
		Addr         string          `yaml:"addr"`
		PushInterval config.Duration `yaml:"push_interval"`
	} `yaml:"monitor"`
	Audit struct {
		URL    string `yaml:"url"`
		Prefix string `yaml:"prefix"`
	} `yaml:"audit"`
}

func defaultFileConfig() fileConfig {
	var fc fileConfig
	bc := broker.DefaultConfig()
	fc.Broker.FrontendAddr = bc.FrontendAddr
	fc.Broker.BackendAddr = bc.BackendAddr
	fc.Broker.HeartbeatInterval = config.Duration(bc.HeartbeatInterval)
	fc.Broker.HeartbeatTimeout = config.Duration(bc.HeartbeatTimeout)
	fc.Broker.MaxPendingRequests = bc.MaxPendingRequests
	fc.Broker.MaxFrameSize = bc.MaxFrameSize
	fc.Monitor.Addr = ":8080"
	fc.Monitor.PushInterval = config.Duration(monitor.DefaultConfig("").PushInterval)
	return fc
}

func main() {
	logger := core.NewComponentLogger("tacore")

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	fc := defaultFileConfig()
	if *configPath != "" {
		if err := config.LoadWithEnv(*configPath, "TACORE", &fc); err != nil {
			logger.Errorf("load config: %v", err)
			os.Exit(1)
		}
	} else if err := config.ApplyEnvOverrides("TACORE", &fc); err != nil {
		logger.Errorf("apply env overrides: %v", err)
		os.Exit(1)
	}

	// An unconfigured bind address is a deployment bug; fatal at startup.
	if fc.Broker.FrontendAddr == "" || fc.Broker.BackendAddr == "" {
		logger.Error("broker frontend_addr and backend_addr must be configured")
		os.Exit(1)
	}

	var opts []broker.Option
	var auditPub audit.Publisher = audit.NopPublisher{}
	if fc.Audit.URL != "" {
		pub, err := audit.NewNATSPublisher(audit.NATSConfig{
			URL:    fc.Audit.URL,
			Prefix: fc.Audit.Prefix,
			Name:   "tacore-broker",
		})
		if err != nil {
			logger.Errorf("connect audit publisher: %v", err)
			os.Exit(1)
		}
		auditPub = pub
		opts = append(opts, broker.WithAuditPublisher(pub))
		logger.Infof("audit events -> %s", fc.Audit.URL)
	}

	b := broker.New(broker.Config{
		FrontendAddr:       fc.Broker.FrontendAddr,
		BackendAddr:        fc.Broker.BackendAddr,
		HeartbeatInterval:  fc.Broker.HeartbeatInterval.Std(),
		HeartbeatTimeout:   fc.Broker.HeartbeatTimeout.Std(),
		MaxPendingRequests: fc.Broker.MaxPendingRequests,
		MaxFrameSize:       fc.Broker.MaxFrameSize,
	}, opts...)

	if err := b.Start(); err != nil {
		logger.Errorf("start broker: %v", err)
		os.Exit(1)
	}

	var mon *monitor.Server
	if fc.Monitor.Addr != "" {
		mon = monitor.NewServer(monitor.Config{
			Addr:         fc.Monitor.Addr,
			PushInterval: fc.Monitor.PushInterval.Std(),
		}, monitor.NewFacade(b))
		go func() {
			if err := mon.Start(); err != nil {
				logger.Errorf("monitor server: %v", err)
			}
		}()
		logger.Infof("monitoring on %s", fc.Monitor.Addr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	if mon != nil {
		if err := mon.Stop(); err != nil {
			logger.Warnf("stop monitor: %v", err)
		}
	}
	if err := b.Stop(); err != nil {
		logger.Warnf("stop broker: %v", err)
	}
	if err := auditPub.Close(); err != nil {
		logger.Warnf("close audit publisher: %v", err)
	}
}
