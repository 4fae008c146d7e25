package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/internal/util"
)

// CronEntry is one parsed crontab line.
type CronEntry struct {
	Schedule string `json:"schedule"`
	Command  string `json:"command"`
	Line     int    `json:"line"`
}

// CronTable is the result of cron.list: the raw crontab plus the parsed
// job lines. Comments and environment assignments survive only in Raw.
type CronTable struct {
	Raw     string      `json:"raw"`
	Entries []CronEntry `json:"entries"`
}

func registerCron(d *Dispatcher, deps Deps) {
	d.Register("cron.list", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
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

		out, errOut, code, err := conn.Exec("crontab -l")
		if err != nil {
			return nil, err
		}
		// crontab exits 1 with "no crontab for <user>" when empty.
		if code != 0 {
			if strings.Contains(string(errOut), "no crontab") {
				return CronTable{Raw: "", Entries: []CronEntry{}}, nil
			}
			return nil, errors.New(errors.ErrRemoteChannel,
				"crontab -l failed: "+strings.TrimSpace(string(errOut)))
		}

		return parseCrontab(string(out)), nil
	})

	d.Register("cron.save", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			ConnectionID string `json:"connectionId"`
			Content      string `json:"content"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}

		conn, err := deps.Dial(p.ConnectionID)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		// Trailing newline is mandatory or cron rejects the table.
		content := p.Content
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}

		cmd := "printf '%s' " + util.ShellQuote(content) + " | crontab -"
		_, errOut, code, err := conn.Exec(cmd)
		if err != nil {
			return nil, err
		}
		if code != 0 {
			return nil, errors.New(errors.ErrValidation,
				"crontab rejected the table: "+strings.TrimSpace(string(errOut)))
		}
		return parseCrontab(content), nil
	})
}

// parseCrontab extracts job lines. A job is five schedule fields (or an
// @keyword) followed by a command; comments, blanks, and variable
// assignments are kept only in Raw.
func parseCrontab(raw string) CronTable {
	table := CronTable{Raw: raw, Entries: []CronEntry{}}
	for i, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if strings.HasPrefix(fields[0], "@") {
			if len(fields) < 2 {
				continue
			}
			table.Entries = append(table.Entries, CronEntry{
				Schedule: fields[0],
				Command:  strings.Join(fields[1:], " "),
				Line:     i + 1,
			})
			continue
		}
		if len(fields) < 6 || strings.Contains(fields[0], "=") {
			continue
		}
		table.Entries = append(table.Entries, CronEntry{
			Schedule: strings.Join(fields[:5], " "),
			Command:  strings.Join(fields[5:], " "),
			Line:     i + 1,
		})
	}
	return table
}
