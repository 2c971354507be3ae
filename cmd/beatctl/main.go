// beatctl drives a Beat Escape Room from a classroom device: create or join a
// room, author locks offline-first and watch a room until it is ready.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/beat-escape-backend/internal/pending"
	"github.com/DoyleJ11/beat-escape-backend/internal/roomclient"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit signals a non-zero exit after the command already wrote its own
// message to stderr.
var errExit = errors.New("exit")

type globals struct {
	configPath string
	server     string
	timeout    time.Duration
	verbose    bool
}

// run executes beatctl with args and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "beatctl: %v\n", err) //nolint:errcheck // best-effort stderr
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "beatctl",
		Short:         "Beat Escape Room classroom client",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "",
		"path to config.toml (default: <user config dir>/beatctl/config.toml)")
	root.PersistentFlags().StringVar(&g.server, "server", "", "room service URL, overrides server_url")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", roomclient.DefaultTimeout, "per-command network timeout")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log sync activity")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newCreateCmd(g, stdout),
		newJoinCmd(g, stdout),
		newShowCmd(g, stdout),
		newSaveCmd(g, stdout),
		newFlushCmd(g, stdout),
		newPendingCmd(g, stdout),
		newReadyCmd(g, stdout),
		newWatchCmd(g, stdout),
	)
	return root
}

// env is everything a command needs once config is resolved.
type env struct {
	cfg    cliConfig
	client *roomclient.Client
	queue  *pending.Store
	log    *zap.Logger
}

func (g *globals) open(stderr io.Writer) (*env, error) {
	path := g.configPath
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	if g.server != "" {
		cfg.ServerURL = g.server
	}

	backend, err := pending.NewFileBackend(cfg.PendingDir)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		client: roomclient.New(cfg.ServerURL),
		queue:  pending.NewStore(backend),
		log:    newLogger(g.verbose, stderr),
	}, nil
}

func (g *globals) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, g.timeout)
}

func newLogger(verbose bool, stderr io.Writer) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(stderr), level))
}
