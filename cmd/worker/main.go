package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tacoreio/tacore/pkg/config"
	"github.com/tacoreio/tacore/pkg/core"
	"github.com/tacoreio/tacore/pkg/worker"
)

const version = "1.0.0"

type fileConfig struct {
	Worker struct {
		BrokerAddr        string          `yaml:"broker_addr"`
		PoolSize          int             `yaml:"pool_size"`
		HeartbeatInterval config.Duration `yaml:"heartbeat_interval"`
		ReconnectDelay    config.Duration `yaml:"reconnect_delay"`
		MaxFrameSize      int             `yaml:"max_frame_size"`
	} `yaml:"worker"`
}

func main() {
	logger := core.NewComponentLogger("worker")

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	var fc fileConfig
	def := worker.DefaultConfig("127.0.0.1:5556")
	fc.Worker.BrokerAddr = def.BrokerAddr
	fc.Worker.PoolSize = 1
	fc.Worker.HeartbeatInterval = config.Duration(def.HeartbeatInterval)
	fc.Worker.ReconnectDelay = config.Duration(def.ReconnectDelay)
	fc.Worker.MaxFrameSize = def.MaxFrameSize

	if *configPath != "" {
		if err := config.LoadWithEnv(*configPath, "TACORE", &fc); err != nil {
			logger.Errorf("load config: %v", err)
			os.Exit(1)
		}
	} else if err := config.ApplyEnvOverrides("TACORE", &fc); err != nil {
		logger.Errorf("apply env overrides: %v", err)
		os.Exit(1)
	}

	if fc.Worker.BrokerAddr == "" {
		logger.Error("worker broker_addr must be configured")
		os.Exit(1)
	}

	pool := worker.NewPool(worker.Config{
		BrokerAddr:        fc.Worker.BrokerAddr,
		HeartbeatInterval: fc.Worker.HeartbeatInterval.Std(),
		ReconnectDelay:    fc.Worker.ReconnectDelay.Std(),
		MaxFrameSize:      fc.Worker.MaxFrameSize,
	}, fc.Worker.PoolSize, registerHandlers)
	logger.Infof("pool of %d serving methods: %v", pool.Size(), pool.Methods())

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	if err := pool.Run(ctx); err != nil && err != context.Canceled {
		logger.Errorf("worker pool stopped: %v", err)
		os.Exit(1)
	}
}
