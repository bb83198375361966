package smbclient

import (
	"errors"
	"io"
	"os"

	"github.com/hirochachacha/go-smb2"

	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// readdirBatch is how many entries are requested per directory query.
const readdirBatch = 128

type dir struct {
	id      smburi.ID
	f       *smb2.File
	pending []os.FileInfo
	eof     bool
}

func (d *dir) ReadDir() (*native.DirEntry, error) {
	for len(d.pending) == 0 {
		if d.eof {
			return nil, nil
		}
		batch, err := d.f.Readdir(readdirBatch)
		if errors.Is(err, io.EOF) {
			d.eof = true
		} else if err != nil {
			return nil, mapError("readdir", d.id, err)
		}
		d.pending = batch
	}

	fi := d.pending[0]
	d.pending = d.pending[1:]
	return dirEntry(fi), nil
}

// dirEntry keeps the size and mtime the directory query already returned.
func dirEntry(fi os.FileInfo) *native.DirEntry {
	e := &native.DirEntry{Kind: entryKind(fi), Name: fi.Name()}
	if e.Kind != native.KindLink {
		e.Stat = &native.Stat{Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}
	}
	return e
}

func entryKind(fi os.FileInfo) native.EntryKind {
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		return native.KindLink
	case fi.IsDir():
		return native.KindDir
	}
	return native.KindFile
}

func (d *dir) Close() error {
	return mapError("closedir", d.id, d.f.Close())
}

// shareList serves a share enumeration that was fetched in one round trip.
type shareList struct {
	entries []native.DirEntry
}

func (l *shareList) ReadDir() (*native.DirEntry, error) {
	if len(l.entries) == 0 {
		return nil, nil
	}
	e := l.entries[0]
	l.entries = l.entries[1:]
	return &e, nil
}

func (l *shareList) Close() error { return nil }

type file struct {
	id smburi.ID
	f  *smb2.File
}

func (f *file) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	if err == io.EOF {
		return n, err
	}
	return n, mapError("read", f.id, err)
}

func (f *file) Write(p []byte) (int, error) {
	n, err := f.f.Write(p)
	return n, mapError("write", f.id, err)
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	n, err := f.f.Seek(offset, whence)
	return n, mapError("seek", f.id, err)
}

func (f *file) Stat() (native.Stat, error) {
	fi, err := f.f.Stat()
	if err != nil {
		return native.Stat{}, mapError("fstat", f.id, err)
	}
	return statOf(fi), nil
}

func (f *file) Close() error {
	return mapError("closefile", f.id, f.f.Close())
}
