package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ricardoborges/nautilus/internal/errors"
)

// Process is one row of a process.list result.
type Process struct {
	User       string  `json:"user"`
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	MemPercent float64 `json:"memPercent"`
	Command    string  `json:"command"`
}

// killSignals is the allowlist for process.kill. Anything else is
// rejected before it reaches a shell.
var killSignals = map[string]bool{
	"TERM": true,
	"KILL": true,
	"HUP":  true,
	"INT":  true,
	"STOP": true,
	"CONT": true,
}

func registerProcess(d *Dispatcher, deps Deps) {
	d.Register("process.list", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			ConnectionID string `json:"connectionId"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}

		conn, err := deps.Dial(p.ConnectionID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		out, errOut, code, err := conn.Exec("ps aux")
		if err != nil {
			return nil, err
		}
		if code != 0 {
			return nil, errors.New(errors.ErrRemoteChannel,
				"ps failed: "+strings.TrimSpace(string(errOut)))
		}
		return parseProcessList(string(out)), nil
	})

	d.Register("process.kill", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			ConnectionID string `json:"connectionId"`
			PID          int    `json:"pid"`
			Signal       string `json:"signal"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if p.PID <= 0 {
			return nil, errors.New(errors.ErrValidation, "pid must be a positive integer")
		}
		sig := strings.TrimPrefix(strings.ToUpper(p.Signal), "SIG")
		if sig == "" {
			sig = "TERM"
		}
		if !killSignals[sig] {
			return nil, errors.New(errors.ErrValidation,
				fmt.Sprintf("signal %q is not allowed", p.Signal))
		}

		conn, err := deps.Dial(p.ConnectionID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		_, errOut, code, err := conn.Exec(fmt.Sprintf("kill -%s %d", sig, p.PID))
		if err != nil {
			return nil, err
		}
		if code != 0 {
			return nil, errors.New(errors.ErrRemoteChannel,
				fmt.Sprintf("kill -%s %d failed: %s", sig, p.PID,
					strings.TrimSpace(string(errOut))))
		}
		return map[string]interface{}{"pid": p.PID, "signal": sig}, nil
	})
}

// parseProcessList reads `ps aux` output. The command column may contain
// spaces, so only the first ten fields are split.
func parseProcessList(out string) []Process {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	procs := make([]Process, 0, len(lines))
	for i, line := range lines {
		if i == 0 {
			continue // USER PID %CPU %MEM ... header
		}
		fields := strings.Fields(line)
		if len(fields) < 11 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		cpu, _ := strconv.ParseFloat(fields[2], 64)
		mem, _ := strconv.ParseFloat(fields[3], 64)
		procs = append(procs, Process{
			User:       fields[0],
			PID:        pid,
			CPUPercent: cpu,
			MemPercent: mem,
			Command:    strings.Join(fields[10:], " "),
		})
	}
	return procs
}
