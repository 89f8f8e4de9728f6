package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Disk stores blobs as flat files under a root directory.
type Disk struct {
	fs afero.Fs
}

// NewDisk returns a Disk rooted at dir, creating it if needed.
func NewDisk(dir string) (*Disk, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return NewDiskFs(afero.NewBasePathFs(osFs, dir)), nil
}

// NewDiskFs wraps an existing filesystem; tests pass afero.NewMemMapFs().
func NewDiskFs(fs afero.Fs) *Disk {
	return &Disk{fs: fs}
}

func (d *Disk) Put(_ context.Context, ref string, r io.Reader) (int64, error) {
	if !ValidRef(ref) {
		return 0, ErrInvalidRef
	}

	tmp := ref + ".part"
	f, err := d.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = d.fs.Remove(tmp)
		return n, err
	}

	if err := d.fs.Rename(tmp, ref); err != nil {
		_ = d.fs.Remove(tmp)
		return n, err
	}
	return n, nil
}

func (d *Disk) Open(_ context.Context, ref string) (io.ReadSeekCloser, Info, error) {
	if !ValidRef(ref) {
		return nil, Info{}, ErrInvalidRef
	}

	f, err := d.fs.Open(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Info{}, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, Info{}, ErrNotFound
	}
	return f, Info{Size: st.Size(), ModTime: st.ModTime()}, nil
}

func (d *Disk) Remove(_ context.Context, ref string) error {
	if !ValidRef(ref) {
		return ErrInvalidRef
	}
	err := d.fs.Remove(ref)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
