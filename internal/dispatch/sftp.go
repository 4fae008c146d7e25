package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/pkg/remote"
)

// maxTransferBytes caps single-command file transfers. Content travels
// base64-encoded inside the JSON envelope, so large files belong in a
// streaming transfer, not here.
const maxTransferBytes = 32 << 20

// FileEntry is one row of an sftp.list result.
type FileEntry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Mode    string `json:"mode"`
	IsDir   bool   `json:"isDir"`
	ModTime int64  `json:"modTime"` // unix seconds, 0 when unknown
}

// withFS dials the connection, opens its file subsystem, runs fn, and
// tears both down.
func withFS(deps Deps, connectionID string, fn func(fs remote.FS) (interface{}, error)) (interface{}, error) {
	conn, err := deps.Dial(connectionID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	fs, err := conn.Files()
	if err != nil {
		return nil, err
	}
	defer fs.Close()

	return fn(fs)
}

func registerSFTP(d *Dispatcher, deps Deps) {
	type pathArgs struct {
		ConnectionID string `json:"connectionId"`
		Path         string `json:"path"`
	}

	requirePath := func(p pathArgs) error {
		if p.Path == "" {
			return errors.New(errors.ErrValidation, "path is required")
		}
		return nil
	}

	d.Register("sftp.list", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p pathArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if err := requirePath(p); err != nil {
			return nil, err
		}
		return withFS(deps, p.ConnectionID, func(fs remote.FS) (interface{}, error) {
			infos, err := fs.ReadDir(p.Path)
			if err != nil {
				return nil, err
			}
			entries := make([]FileEntry, 0, len(infos))
			for _, info := range infos {
				var mod int64
				if t := info.ModTime(); !t.IsZero() {
					mod = t.Unix()
				}
				entries = append(entries, FileEntry{
					Name:    info.Name(),
					Size:    info.Size(),
					Mode:    info.Mode().String(),
					IsDir:   info.IsDir(),
					ModTime: mod,
				})
			}
			return entries, nil
		})
	})

	d.Register("sftp.mkdir", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p pathArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if err := requirePath(p); err != nil {
			return nil, err
		}
		return withFS(deps, p.ConnectionID, func(fs remote.FS) (interface{}, error) {
			return nil, fs.Mkdir(p.Path)
		})
	})

	d.Register("sftp.remove", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p pathArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if err := requirePath(p); err != nil {
			return nil, err
		}
		return withFS(deps, p.ConnectionID, func(fs remote.FS) (interface{}, error) {
			return nil, fs.Remove(p.Path)
		})
	})

	d.Register("sftp.rename", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			ConnectionID string `json:"connectionId"`
			OldPath      string `json:"oldPath"`
			NewPath      string `json:"newPath"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if p.OldPath == "" || p.NewPath == "" {
			return nil, errors.New(errors.ErrValidation, "oldPath and newPath are required")
		}
		return withFS(deps, p.ConnectionID, func(fs remote.FS) (interface{}, error) {
			return nil, fs.Rename(p.OldPath, p.NewPath)
		})
	})

	d.Register("sftp.upload", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			ConnectionID string `json:"connectionId"`
			Path         string `json:"path"`
			Content      string `json:"content"` // base64
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, errors.New(errors.ErrValidation, "path is required")
		}
		data, err := base64.StdEncoding.DecodeString(p.Content)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrValidation, "content is not valid base64")
		}
		if len(data) > maxTransferBytes {
			return nil, errors.New(errors.ErrValidation,
				fmt.Sprintf("upload exceeds the %d byte limit", maxTransferBytes))
		}
		return withFS(deps, p.ConnectionID, func(fs remote.FS) (interface{}, error) {
			w, err := fs.Create(p.Path)
			if err != nil {
				return nil, err
			}
			if _, err := w.Write(data); err != nil {
				w.Close()
				return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel, "write to "+p.Path+" failed")
			}
			if err := w.Close(); err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel, "close of "+p.Path+" failed")
			}
			return map[string]interface{}{"path": p.Path, "size": len(data)}, nil
		})
	})

	d.Register("sftp.download", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p pathArgs
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if err := requirePath(p); err != nil {
			return nil, err
		}
		return withFS(deps, p.ConnectionID, func(fs remote.FS) (interface{}, error) {
			r, err := fs.Open(p.Path)
			if err != nil {
				return nil, err
			}
			defer r.Close()

			data, err := io.ReadAll(io.LimitReader(r, maxTransferBytes+1))
			if err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel, "read of "+p.Path+" failed")
			}
			if len(data) > maxTransferBytes {
				return nil, errors.New(errors.ErrValidation,
					fmt.Sprintf("%s exceeds the %d byte limit", p.Path, maxTransferBytes))
			}
			return map[string]interface{}{
				"path":    p.Path,
				"size":    len(data),
				"content": base64.StdEncoding.EncodeToString(data),
			}, nil
		})
	})
}
