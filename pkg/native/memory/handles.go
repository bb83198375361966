package memory

import (
	"errors"
	"io"

	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

type dir struct {
	client  *Client
	id      smburi.ID
	entries []native.DirEntry
	closed  bool
}

func (d *dir) ReadDir() (*native.DirEntry, error) {
	done, err := d.client.enter("readdir", d.id)
	defer done()
	if err != nil {
		return nil, err
	}
	if d.closed {
		return nil, native.NewError(native.ErrInvalidArgument, "readdir", d.id, errors.New("directory closed"))
	}
	if len(d.entries) == 0 {
		return nil, nil
	}
	e := d.entries[0]
	d.entries = d.entries[1:]
	return &e, nil
}

func (d *dir) Close() error {
	done, _ := d.client.enter("closedir", d.id)
	defer done()
	d.closed = true
	return nil
}

type file struct {
	client *Client
	id     smburi.ID
	node   *node
	mode   string
	pos    int64
	closed bool
}

func (f *file) check(op string) error {
	if f.closed {
		return native.NewError(native.ErrInvalidArgument, op, f.id, errors.New("file closed"))
	}
	return nil
}

func (f *file) Read(p []byte) (int, error) {
	done, err := f.client.enter("read", f.id)
	defer done()
	if err != nil {
		return 0, err
	}
	if err := f.check("read"); err != nil {
		return 0, err
	}

	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	if f.pos >= int64(len(f.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.node.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	done, err := f.client.enter("write", f.id)
	defer done()
	if err != nil {
		return 0, err
	}
	if err := f.check("write"); err != nil {
		return 0, err
	}
	if f.mode == native.ModeRead {
		return 0, native.NewError(native.ErrAccessDenied, "write", f.id, errors.New("opened read-only"))
	}

	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	if f.mode == native.ModeAppend {
		f.pos = int64(len(f.node.data))
	}
	end := f.pos + int64(len(p))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	copy(f.node.data[f.pos:], p)
	f.pos = end
	f.node.modTime = f.client.now()
	return len(p), nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	done, err := f.client.enter("seek", f.id)
	defer done()
	if err != nil {
		return 0, err
	}
	if err := f.check("seek"); err != nil {
		return 0, err
	}

	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(len(f.node.data))
	default:
		return 0, native.NewError(native.ErrInvalidArgument, "seek", f.id, errors.New("bad whence"))
	}
	if base+offset < 0 {
		return 0, native.NewError(native.ErrInvalidArgument, "seek", f.id, errors.New("negative position"))
	}
	f.pos = base + offset
	return f.pos, nil
}

func (f *file) Stat() (native.Stat, error) {
	done, err := f.client.enter("fstat", f.id)
	defer done()
	if err != nil {
		return native.Stat{}, err
	}
	if err := f.check("fstat"); err != nil {
		return native.Stat{}, err
	}
	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	return statOf(f.node), nil
}

func (f *file) Close() error {
	done, _ := f.client.enter("closefile", f.id)
	defer done()
	f.closed = true
	return nil
}
