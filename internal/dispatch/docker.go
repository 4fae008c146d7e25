package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ricardoborges/nautilus/internal/errors"
)

// containerIDPattern matches docker container IDs and names. Anything that
// fails this never reaches the remote shell.
var containerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Container is one row of a docker.list result.
type Container struct {
	ID     string `json:"id"`
	Image  string `json:"image"`
	Names  string `json:"names"`
	State  string `json:"state"`
	Status string `json:"status"`
	Ports  string `json:"ports"`
}

// dockerPSRow mirrors the fields of `docker ps --format '{{json .}}'`.
type dockerPSRow struct {
	ID     string `json:"ID"`
	Image  string `json:"Image"`
	Names  string `json:"Names"`
	State  string `json:"State"`
	Status string `json:"Status"`
	Ports  string `json:"Ports"`
}

func validateContainerID(id string) error {
	if !containerIDPattern.MatchString(id) {
		return errors.New(errors.ErrValidation,
			fmt.Sprintf("invalid container id %q", id))
	}
	return nil
}

func registerDocker(d *Dispatcher, deps Deps) {
	runDocker := func(connectionID, cmd string) (string, error) {
		conn, err := deps.Dial(connectionID)
		if err != nil {
			return "", err
		}
		defer conn.Close()

		out, errOut, code, err := conn.Exec(cmd)
		if err != nil {
			return "", err
		}
		if code != 0 {
			msg := strings.TrimSpace(string(errOut))
			if strings.Contains(msg, "No such container") {
				return "", errors.New(errors.ErrNotFound, msg)
			}
			if strings.Contains(msg, "command not found") || strings.Contains(msg, "not found") {
				return "", errors.NewWithSuggestion(errors.ErrRemoteChannel,
					"docker is not available on the remote host",
					"Install docker or check the remote PATH")
			}
			return "", errors.New(errors.ErrRemoteChannel, "docker failed: "+msg)
		}
		return string(out), nil
	}

	d.Register("docker.list", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			ConnectionID string `json:"connectionId"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		out, err := runDocker(p.ConnectionID, `docker ps -a --format '{{json .}}'`)
		if err != nil {
			return nil, err
		}
		return parseContainerList(out), nil
	})

	lifecycle := func(verb string) HandlerFunc {
		return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var p struct {
				ConnectionID string `json:"connectionId"`
				ContainerID  string `json:"containerId"`
			}
			if err := decode(args, &p); err != nil {
				return nil, err
			}
			if err := validateContainerID(p.ContainerID); err != nil {
				return nil, err
			}
			if _, err := runDocker(p.ConnectionID, "docker "+verb+" "+p.ContainerID); err != nil {
				return nil, err
			}
			return map[string]string{"containerId": p.ContainerID, "action": verb}, nil
		}
	}
	d.Register("docker.start", lifecycle("start"))
	d.Register("docker.stop", lifecycle("stop"))
	d.Register("docker.restart", lifecycle("restart"))

	d.Register("docker.logs", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			ConnectionID string `json:"connectionId"`
			ContainerID  string `json:"containerId"`
			Tail         int    `json:"tail"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if err := validateContainerID(p.ContainerID); err != nil {
			return nil, err
		}
		if p.Tail <= 0 {
			p.Tail = 200
		}

		conn, err := deps.Dial(p.ConnectionID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		// docker logs writes container stderr to our stderr even on
		// success, so both streams are part of the result.
		out, errOut, code, err := conn.Exec(
			fmt.Sprintf("docker logs --tail %d %s", p.Tail, p.ContainerID))
		if err != nil {
			return nil, err
		}
		if code != 0 {
			msg := strings.TrimSpace(string(errOut))
			if strings.Contains(msg, "No such container") {
				return nil, errors.New(errors.ErrNotFound, msg)
			}
			return nil, errors.New(errors.ErrRemoteChannel, "docker logs failed: "+msg)
		}
		return map[string]string{
			"containerId": p.ContainerID,
			"stdout":      string(out),
			"stderr":      string(errOut),
		}, nil
	})
}

// parseContainerList decodes the one-JSON-object-per-line format of
// `docker ps --format '{{json .}}'`. Undecodable lines are skipped.
func parseContainerList(out string) []Container {
	containers := []Container{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row dockerPSRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		containers = append(containers, Container{
			ID:     row.ID,
			Image:  row.Image,
			Names:  row.Names,
			State:  row.State,
			Status: row.Status,
			Ports:  row.Ports,
		})
	}
	return containers
}
