package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/Brushfam/patron-backend/internal"
	"github.com/Brushfam/patron-backend/internal/config"
)

// Represents the root command for the builderd daemon.
var RootCmd struct {
	Quiet   bool       `short:"q" help:"Suppress informational output."`
	Debug   bool       `short:"d" help:"Enable debug output."`
	Config  string     `short:"c" default:"${config_file}" help:"Path to the configuration file." placeholder:"PATH"`
	Socket  string     `short:"s" help:"Override the default Unix socket path." placeholder:"PATH"`
	Serve   ServeCmd   `cmd:"" help:"Start the daemon."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("The smart contract build daemon.\n\nRuns source archives through sandboxed, resource-limited builds and serves session state over a Unix domain socket."),
		kong.UsageOnError(),
		kong.Vars{
			"version":     internal.VersionString(),
			"config_file": config.DefaultFile,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Reconfigures the global logger based on CLI flags.
//
// Flags are folded into the build-time mode state first, so that
// [internal.IsQuiet] and [internal.IsDebug] stay truthful for anything
// consulting them after flag parse.
func configureLogger() {
	if RootCmd.Debug {
		internal.SetDebug(true)
	}
	if RootCmd.Quiet {
		internal.SetQuiet(true)
	}

	level := slog.LevelInfo
	if internal.IsDebug() {
		level = slog.LevelDebug
	} else if internal.IsQuiet() {
		level = slog.LevelWarn
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
