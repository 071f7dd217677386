package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jimmy477/ripd/internal/config"
	"github.com/jimmy477/ripd/internal/daemon"
	"github.com/jimmy477/ripd/internal/router"
)

var rootCmd = &cobra.Command{
	Use:   "ripd <config-path>",
	Short: "RIPv2-style distance-vector routing daemon over loopback UDP",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return run(args[0])
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, interrupted{}) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Development = false
	zapCfg.Level.SetLevel(zap.InfoLevel)

	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.Parse(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := daemon.New(toDaemonConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	ctx := context.Background()
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return d.Run(ctx)
	})
	group.Go(func() error {
		err := waitInterrupted(ctx)
		log.Infow("caught signal", "signal", err)
		return err
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		var interrupt interrupted
		if errors.As(err, &interrupt) {
			return nil
		}
		return err
	}
	return nil
}

func toDaemonConfig(cfg config.RouterConfig) daemon.Config {
	neighbours := make([]router.Neighbour, len(cfg.Outputs))
	for i, o := range cfg.Outputs {
		neighbours[i] = router.Neighbour{Port: o.Port, DirectMetric: o.Metric, RouterID: o.NeighbourID}
	}
	return daemon.Config{
		LocalRouterID: cfg.RouterID,
		InputPorts:    cfg.InputPorts,
		Neighbours:    neighbours,
		Period:        cfg.Period,
		Timeout:       cfg.Timeout,
		Garbage:       cfg.Garbage,
	}
}

type interrupted struct {
	os.Signal
}

func (m interrupted) Error() string {
	return m.String()
}

// waitInterrupted blocks until SIGINT or SIGTERM arrives or ctx is canceled.
func waitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case v := <-ch:
		return interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}
