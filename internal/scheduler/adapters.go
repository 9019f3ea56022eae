package scheduler

import (
	"context"

	"github.com/Brushfam/patron-backend/internal/sandbox"
	"github.com/Brushfam/patron-backend/internal/volume"
)

// Adapts the volume manager to the Provisioner interface.
type ManagerProvisioner struct {
	Manager *volume.Manager
}

func (p ManagerProvisioner) Provision(ctx context.Context) (Volume, error) {
	return p.Manager.Provision(ctx)
}

// Adapts the sandbox runtime to the Launcher interface.
type RuntimeLauncher struct {
	Runtime *sandbox.Runtime
}

func (l RuntimeLauncher) EnsureImage(ctx context.Context, ref string) error {
	return l.Runtime.EnsureImage(ctx, ref)
}

func (l RuntimeLauncher) Launch(ctx context.Context, params sandbox.Params, limits sandbox.Limits) (Sandbox, error) {
	return l.Runtime.Launch(ctx, params, limits)
}
