package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/internal/registry"
)

// defaultRDPClient is used when no client binary is configured.
const defaultRDPClient = "xfreerdp"

// launchProcess starts a detached local process and returns its pid.
// Overridable in tests.
var launchProcess = func(name string, args []string) (int, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap the child when it exits; the daemon does not track it further.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func registerRDP(d *Dispatcher, deps Deps) {
	client := deps.RDPClient
	if client == "" {
		client = defaultRDPClient
	}
	log := deps.Log.With().Str("component", "rdp").Logger()

	d.Register("rdp.launch", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p connRef
		if err := decode(args, &p); err != nil {
			return nil, err
		}

		profile, err := deps.Registry.Get(p.ID)
		if err != nil {
			return nil, err
		}
		if profile.Kind != registry.KindRDP {
			return nil, errors.New(errors.ErrValidation,
				fmt.Sprintf("connection %q is not an RDP host", profile.Name))
		}

		port := profile.Port
		if port == 0 {
			port = 3389
		}

		clientArgs := []string{
			fmt.Sprintf("/v:%s:%d", profile.Host, port),
			"/cert:ignore",
			"+clipboard",
		}
		if profile.Username != "" {
			clientArgs = append(clientArgs, "/u:"+profile.Username)
		}
		if profile.Auth == registry.AuthPassword {
			secret, err := deps.Registry.GetSecret(profile.ID)
			if err != nil {
				return nil, err
			}
			clientArgs = append(clientArgs, "/p:"+secret)
		}

		pid, err := launchProcess(client, clientArgs)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("cannot launch RDP client %q", client))
		}
		log.Info().
			Str("connection", profile.ID).
			Str("client", client).
			Int("pid", pid).
			Msg("rdp client launched")
		return map[string]interface{}{"pid": pid}, nil
	})
}
