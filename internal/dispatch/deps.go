package dispatch

import (
	"github.com/rs/zerolog"

	"github.com/ricardoborges/nautilus/internal/metrics"
	"github.com/ricardoborges/nautilus/internal/registry"
	"github.com/ricardoborges/nautilus/internal/terminal"
	"github.com/ricardoborges/nautilus/pkg/remote"
)

// Deps carries the subsystems the command handlers operate on.
type Deps struct {
	Registry *registry.Registry
	Terminal *terminal.Manager
	Metrics  *metrics.Poller

	// Dial opens a fresh channel for one-shot commands. Channels are not
	// pooled; each command dials, runs, and closes, so credential changes
	// always apply to the next command.
	Dial func(connectionID string) (remote.Conn, error)

	// RDPClient is the local client binary for rdp.launch.
	// Empty means xfreerdp.
	RDPClient string

	Log zerolog.Logger
}

// RegisterAll wires the complete command table and seals it.
func RegisterAll(d *Dispatcher, deps Deps) {
	registerConnections(d, deps)
	registerTerminal(d, deps)
	registerMetrics(d, deps)
	registerSFTP(d, deps)
	registerCron(d, deps)
	registerProcess(d, deps)
	registerDocker(d, deps)
	registerSystem(d, deps)
	registerRDP(d, deps)
	d.Seal()
}
