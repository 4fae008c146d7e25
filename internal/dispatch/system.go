package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ricardoborges/nautilus/internal/errors"
)

// SystemInfo is the result of system.info.
type SystemInfo struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Kernel   string `json:"kernel"`
	Arch     string `json:"arch"`
	CPUModel string `json:"cpuModel"`
	CPUCores int    `json:"cpuCores"`
}

const systemInfoCommand = `echo ===HOST===; hostname 2>/dev/null; ` +
	`echo ===OS===; grep '^PRETTY_NAME=' /etc/os-release 2>/dev/null; ` +
	`echo ===KERNEL===; uname -r 2>/dev/null; ` +
	`echo ===ARCH===; uname -m 2>/dev/null; ` +
	`echo ===CPU===; grep -m1 '^model name' /proc/cpuinfo 2>/dev/null; nproc 2>/dev/null`

func registerSystem(d *Dispatcher, deps Deps) {
	d.Register("system.info", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
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

		out, _, code, err := conn.Exec(systemInfoCommand)
		if err != nil {
			return nil, err
		}
		if code != 0 {
			return nil, errors.New(errors.ErrRemoteChannel, "system probe failed")
		}
		return parseSystemInfo(string(out)), nil
	})
}

func parseSystemInfo(out string) SystemInfo {
	var info SystemInfo
	section := ""
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "===") {
			section = trimmed
			continue
		}
		if trimmed == "" {
			continue
		}
		switch section {
		case "===HOST===":
			if info.Hostname == "" {
				info.Hostname = trimmed
			}
		case "===OS===":
			if v, ok := strings.CutPrefix(trimmed, "PRETTY_NAME="); ok {
				info.OS = strings.Trim(v, `"`)
			}
		case "===KERNEL===":
			if info.Kernel == "" {
				info.Kernel = trimmed
			}
		case "===ARCH===":
			if info.Arch == "" {
				info.Arch = trimmed
			}
		case "===CPU===":
			if v, ok := strings.CutPrefix(trimmed, "model name"); ok {
				info.CPUModel = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), ":"))
			} else if n := parseInt(trimmed); n > 0 {
				info.CPUCores = n
			}
		}
	}
	return info
}

func parseInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
