// Package lock guards the daemon's state directory against a second
// instance. The registry and vault use write-then-rename persistence that
// is safe within one process but not across two daemons sharing the files.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ricardoborges/nautilus/internal/errors"
)

// Guard is a held instance lock. Release it on shutdown; a crashed daemon
// leaves a stale pidfile that the next start reclaims.
type Guard struct {
	path string
}

// Acquire takes the instance lock at path, creating the pidfile with
// O_EXCL as the atomic primitive. A pidfile whose process is gone is
// treated as stale and reclaimed.
func Acquire(path string) (*Guard, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"cannot create lock directory")
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			if _, werr := fmt.Fprintf(f, "%d\n", os.Getpid()); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, errors.WrapWithCode(werr, errors.ErrConfig,
					"cannot write instance lock")
			}
			f.Close()
			return &Guard{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"cannot create instance lock")
		}

		holder, alive := holderAlive(path)
		if alive {
			return nil, errors.NewWithSuggestion(errors.ErrConfig,
				fmt.Sprintf("another instance is already running (pid %d)", holder),
				"Stop the other daemon or remove "+path+" if it is stale")
		}
		// Holder is gone; reclaim and retry once.
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, errors.WrapWithCode(rerr, errors.ErrConfig,
				"cannot remove stale instance lock")
		}
	}

	return nil, errors.New(errors.ErrConfig,
		"could not acquire instance lock at "+path)
}

// Release removes the pidfile. Safe on a nil guard.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	err := os.Remove(g.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// holderAlive reads the pid from the lockfile and probes the process.
// An unreadable or malformed pidfile counts as dead.
func holderAlive(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	// Signal 0 probes for existence without delivering anything.
	if err := syscall.Kill(pid, 0); err != nil {
		return pid, err == syscall.EPERM
	}
	return pid, true
}
