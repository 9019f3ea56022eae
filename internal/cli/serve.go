package cli

import (
	"context"
	"log/slog"

	"github.com/Brushfam/patron-backend/internal/config"
	"github.com/Brushfam/patron-backend/internal/sandbox"
	"github.com/Brushfam/patron-backend/internal/scheduler"
	"github.com/Brushfam/patron-backend/internal/server"
	"github.com/Brushfam/patron-backend/internal/session"
	"github.com/Brushfam/patron-backend/internal/volume"
)

// Represents the 'builderd serve' command.
type ServeCmd struct{}

// Executes the serve command.
//
// Loads the configuration, sweeps leftovers from a previous run, starts
// the control socket, and drives the build scheduler until the context is
// cancelled (e.g. via SIGINT or SIGTERM) or a shutdown command arrives.
func (c *ServeCmd) Run(ctx context.Context) error {
	cfg, err := config.Load(RootCmd.Config)
	if err != nil {
		return err
	}
	if RootCmd.Socket != "" {
		cfg.SocketPath = RootCmd.Socket
	}

	runtime, err := sandbox.New(cfg.ContainerdAddress, cfg.ContainerdNamespace)
	if err != nil {
		return err
	}
	defer runtime.Close()

	volumes := volume.NewManager(cfg.ImagesPath, cfg.VolumeSize)

	// A previous run may have died with builds in flight. Their volumes
	// and containers must be reclaimed before new builds start.
	if err := volumes.Sweep(ctx); err != nil {
		return err
	}
	if err := runtime.Sweep(ctx); err != nil {
		slog.Warn("sandbox sweep failed", "error", err)
	}

	sched := scheduler.New(scheduler.Config{
		Workers: cfg.WorkerCount,
		Limits: session.Limits{
			Memory:        cfg.MemoryLimit,
			MemorySwap:    cfg.MemorySwapLimit,
			VolumeSize:    cfg.VolumeSize,
			WasmSize:      cfg.WasmSizeLimit,
			MetadataSize:  cfg.MetadataSizeLimit,
			BuildDuration: cfg.BuildDuration(),
		},
		BuildImage:      cfg.BuildImage,
		APIServerURL:    cfg.APIServerURL,
		SealSources:     cfg.SealSources,
		PrebakedVersion: cfg.PrebakedContractVersion,
	}, scheduler.ManagerProvisioner{Manager: volumes}, scheduler.RuntimeLauncher{Runtime: runtime})

	srv := server.New(cfg.SocketPath, sched)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	// A shutdown command stops admissions the same way a signal does.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		srv.Wait()
		cancel()
	}()

	slog.Info("builderd is running", "workers", cfg.WorkerCount)

	sched.Run(runCtx)

	slog.Info("shutting down")
	return nil
}
