package remote

import (
	"io"
	"os"

	"github.com/pkg/sftp"
	"github.com/ricardoborges/nautilus/internal/errors"
)

// sftpFS adapts *sftp.Client to the FS interface. The adapter exists so the
// mock filesystem used in tests can stand in for a real SFTP subsystem.
type sftpFS struct {
	client *sftp.Client
}

// Files opens an SFTP view of the remote filesystem. The returned FS holds
// its own subsystem channel and must be closed independently of the Conn.
func (c *sshConn) Files() (FS, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel,
			"failed to open SFTP subsystem")
	}
	return &sftpFS{client: client}, nil
}

func (f *sftpFS) ReadDir(path string) ([]os.FileInfo, error) {
	infos, err := f.client.ReadDir(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel, "cannot list "+path)
	}
	return infos, nil
}

func (f *sftpFS) Mkdir(path string) error {
	if err := f.client.Mkdir(path); err != nil {
		return errors.WrapWithCode(err, errors.ErrRemoteChannel, "cannot create "+path)
	}
	return nil
}

func (f *sftpFS) Remove(path string) error {
	if err := f.client.Remove(path); err != nil {
		return errors.WrapWithCode(err, errors.ErrRemoteChannel, "cannot remove "+path)
	}
	return nil
}

func (f *sftpFS) Rename(oldPath, newPath string) error {
	if err := f.client.Rename(oldPath, newPath); err != nil {
		return errors.WrapWithCode(err, errors.ErrRemoteChannel, "cannot rename "+oldPath)
	}
	return nil
}

func (f *sftpFS) Create(path string) (io.WriteCloser, error) {
	file, err := f.client.Create(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel, "cannot create "+path)
	}
	return file, nil
}

func (f *sftpFS) Open(path string) (io.ReadCloser, error) {
	file, err := f.client.Open(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel, "cannot open "+path)
	}
	return file, nil
}

func (f *sftpFS) Close() error {
	return f.client.Close()
}
