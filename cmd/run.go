package main

import (
	"context"
	"os"
	"os/signal"

	jRPC "github.com/0xPolygon/cdk-rpc/rpc"
	ippanbridge "github.com/dmrl789/ippan-bridge"
	"github.com/dmrl789/ippan-bridge/commitledger"
	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/config"
	"github.com/dmrl789/ippan-bridge/exitprocessor"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/dmrl789/ippan-bridge/log"
	"github.com/dmrl789/ippan-bridge/rpc"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func start(cliCtx *cli.Context) error {
	c, err := config.Load(cliCtx)
	if err != nil {
		return err
	}

	log.Init(c.Log)

	if c.Log.Environment == log.EnvironmentDevelopment {
		ippanbridge.PrintVersion(os.Stdout)
		log.Info("Starting application")
	} else if c.Log.Environment == log.EnvironmentProduction {
		logVersion()
	}

	registry, ledger, processor, err := createComponents(c)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	components := cliCtx.StringSlice(config.FlagComponents)
	for _, component := range components {
		switch component {
		case bridgeCommon.RPC:
			server := createRPC(c.RPC, registry, ledger, processor)
			group.Go(func() error {
				return server.Start()
			})
		case bridgeCommon.SWEEPER:
			group.Go(func() error {
				processor.Start(ctx)
				return nil
			})
		}
	}

	go waitSignal(cancel)

	return group.Wait()
}

// createComponents wires the registry, the commit ledger and the exit
// processor together. The ledger serves as the registry's commit counter so
// proof type and DA mode freeze once a network has accepted commits.
func createComponents(c *config.Config) (
	*l2registry.L2Registry, *commitledger.CommitLedger, *exitprocessor.ExitProcessor, error,
) {
	registry, err := l2registry.New(log.WithFields("module", bridgeCommon.REGISTRY), c.Registry)
	if err != nil {
		return nil, nil, nil, err
	}
	ledger, err := commitledger.New(
		log.WithFields("module", bridgeCommon.COMMIT_LEDGER),
		c.CommitLedger, c.Verifier, registry,
	)
	if err != nil {
		return nil, nil, nil, err
	}
	registry.SetCommitCounter(ledger)
	processor, err := exitprocessor.New(
		log.WithFields("module", bridgeCommon.EXIT_PROCESSOR),
		c.ExitProcessor, registry, ledger, nil,
	)
	if err != nil {
		return nil, nil, nil, err
	}
	return registry, ledger, processor, nil
}

func createRPC(
	cfg jRPC.Config,
	registry *l2registry.L2Registry,
	ledger *commitledger.CommitLedger,
	processor *exitprocessor.ExitProcessor,
) *jRPC.Server {
	logger := log.WithFields("module", bridgeCommon.RPC)
	services := []jRPC.Service{
		{
			Name: rpc.BRIDGE,
			Service: rpc.NewBridgeEndpoints(
				logger,
				cfg.WriteTimeout.Duration,
				cfg.ReadTimeout.Duration,
				registry,
				ledger,
				processor,
			),
		},
	}

	return jRPC.NewServer(cfg, services, jRPC.WithLogger(logger.GetSugaredLogger()))
}

func logVersion() {
	log.Infow("Starting application", "version", ippanbridge.Version, "gitRevision", ippanbridge.GitRev)
}

func waitSignal(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	for sig := range signals {
		switch sig {
		case os.Interrupt, os.Kill:
			log.Info("terminating application gracefully...")
			cancel()
			return
		}
	}
}
