package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricardoborges/nautilus/internal/config"
	"github.com/ricardoborges/nautilus/internal/dispatch"
	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/internal/hub"
	"github.com/ricardoborges/nautilus/internal/lock"
	"github.com/ricardoborges/nautilus/internal/metrics"
	"github.com/ricardoborges/nautilus/internal/registry"
	"github.com/ricardoborges/nautilus/internal/server"
	"github.com/ricardoborges/nautilus/internal/terminal"
	"github.com/ricardoborges/nautilus/internal/vault"
	"github.com/ricardoborges/nautilus/pkg/remote"
)

// shutdownGrace bounds how long in-flight HTTP requests may take once a
// stop signal arrives.
const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration daemon",
	Long: `Run the daemon in the foreground until interrupted.

On startup the vault and connection registry are opened from the data
directory, the command table is wired, and the HTTP surfaces come up on
the configured loopback address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	guard, err := lock.Acquire(filepath.Join(cfg.DataDir, "nautilus.pid"))
	if err != nil {
		return err
	}
	defer guard.Release()

	secrets, err := vault.OpenFileStore(cfg.VaultFile, cfg.VaultKeyFile)
	if err != nil {
		return err
	}
	reg, err := registry.Open(cfg.ConnectionsFile, secrets)
	if err != nil {
		return err
	}

	dialer := remote.NewDialer(remote.Options{
		Timeout:       cfg.DialTimeout,
		StrictHostKey: cfg.StrictHostKey,
	})

	// dialByID resolves a registered profile and its secret at call time,
	// so credential and profile edits apply to the next dial.
	dialByID := func(id string) (remote.Conn, error) {
		profile, err := reg.Get(id)
		if err != nil {
			return nil, err
		}
		if profile.Kind != registry.KindSSH {
			return nil, errors.New(errors.ErrValidation,
				"connection "+profile.Name+" is not an SSH host")
		}
		secret := ""
		if profile.Auth == registry.AuthPassword {
			secret, err = secrets.Get(profile.ID)
			if err != nil && !errors.IsCode(err, errors.ErrNotFound) {
				return nil, err
			}
		}
		return dialer(profile, secret)
	}

	events := hub.New(log)
	sessions := terminal.NewManager(dialByID, events, log)
	poller := metrics.NewPoller(dialByID, events, cfg.Metrics.Interval, cfg.Metrics.Services, log)

	d := dispatch.New(log)
	dispatch.RegisterAll(d, dispatch.Deps{
		Registry:  reg,
		Terminal:  sessions,
		Metrics:   poller,
		Dial:      dialByID,
		RDPClient: cfg.RDPClient,
		Log:       log,
	})

	srv := server.New(cfg.Listen, d, events, version, log)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	// Stop producers before the transport so subscribers see the final
	// terminal:closed and metrics:stopped events.
	poller.Stop()
	sessions.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}
