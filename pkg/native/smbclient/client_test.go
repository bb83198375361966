package smbclient

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"testing"
	"time"

	"github.com/hirochachacha/go-smb2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

func TestSharePath(t *testing.T) {
	assert.Equal(t, "", sharePath(smburi.Share("host", "share")))
	assert.Equal(t, "a.txt", sharePath(smburi.MustParse("smb://host/share/a.txt")))
	assert.Equal(t, `dir\sub\f`, sharePath(smburi.MustParse("smb://host/share/dir/sub/f")))
}

func TestOpenFlags(t *testing.T) {
	tests := []struct {
		mode string
		flag int
	}{
		{native.ModeRead, os.O_RDONLY},
		{native.ModeReadWrite, os.O_RDWR},
		{native.ModeWrite, os.O_WRONLY | os.O_CREATE | os.O_TRUNC},
		{native.ModeTruncate, os.O_WRONLY | os.O_CREATE | os.O_TRUNC},
		{native.ModeAppend, os.O_WRONLY | os.O_CREATE | os.O_APPEND},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			flag, err := openFlags(tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.flag, flag)
		})
	}

	_, err := openFlags("x")
	assert.Error(t, err)
}

func TestShareKind(t *testing.T) {
	assert.Equal(t, native.KindIPCShare, shareKind("IPC$"))
	assert.Equal(t, native.KindIPCShare, shareKind("ipc$"))
	assert.Equal(t, native.KindPrinterShare, shareKind("print$"))
	assert.Equal(t, native.KindFileShare, shareKind("public"))
	assert.Equal(t, native.KindFileShare, shareKind("C$"))
}

func TestMapError(t *testing.T) {
	id := smburi.MustParse("smb://host/share/x")

	tests := []struct {
		name string
		err  error
		code native.ErrorCode
	}{
		{"NameNotFound", &smb2.ResponseError{Code: statusObjectNameNotFound}, native.ErrNotFound},
		{"PathNotFound", &os.PathError{Op: "stat", Path: "x", Err: &smb2.ResponseError{Code: statusObjectPathNotFound}}, native.ErrNotFound},
		{"LogonFailure", &smb2.ResponseError{Code: statusLogonFailure}, native.ErrAuthFailed},
		{"Collision", &smb2.ResponseError{Code: statusObjectNameCollision}, native.ErrAlreadyExists},
		{"NotEmpty", &smb2.ResponseError{Code: statusDirectoryNotEmpty}, native.ErrNotEmpty},
		{"OtherStatus", &smb2.ResponseError{Code: 0xC0000001}, native.ErrIO},
		{"FsNotExist", fmt.Errorf("open: %w", fs.ErrNotExist), native.ErrNotFound},
		{"FsPermission", fs.ErrPermission, native.ErrAccessDenied},
		{"Network", &net.OpError{Op: "dial", Err: errors.New("refused")}, native.ErrUnreachable},
		{"Plain", errors.New("boom"), native.ErrIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError("stat", id, tt.err)
			assert.Equal(t, tt.code, native.CodeOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, mapError("stat", id, nil))

	already := native.NewError(native.ErrNotEmpty, "rmdir", id, nil)
	assert.Same(t, already, mapError("stat", id, already))
}

func TestCredentialPrecedence(t *testing.T) {
	c := New(Config{})
	file := smburi.MustParse("smb://host/share/a.txt")

	assert.Equal(t, credential{}, c.credentialFor(file), "guest by default")

	require.NoError(t, c.PutCredential(smburi.Server("host"), "", "bob", "b"))
	assert.Equal(t, "bob", c.credentialFor(file).username)

	require.NoError(t, c.PutCredential(smburi.Share("host", "share"), "CORP", "alice", "a"))
	assert.Equal(t, "alice", c.credentialFor(file).username)
	assert.Equal(t, "bob", c.credentialFor(smburi.MustParse("smb://host/other/b")).username)

	require.NoError(t, c.RemoveCredential(smburi.Share("host", "share")))
	assert.Equal(t, "bob", c.credentialFor(file).username)
}

func TestUnreachableHost(t *testing.T) {
	c := New(Config{Port: 1445, DialTimeout: time.Second})
	var dialed string
	c.dial = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		dialed = addr
		return nil, &net.OpError{Op: "dial", Net: network, Err: errors.New("connection refused")}
	}

	_, err := c.Stat(smburi.MustParse("smb://nas/share/a.txt"))
	assert.Equal(t, native.ErrUnreachable, native.CodeOf(err))
	assert.Equal(t, "nas:1445", dialed)
	assert.Empty(t, c.sessions)

	_, err = c.OpenDir(smburi.Server("nas"))
	assert.Equal(t, native.ErrUnreachable, native.CodeOf(err))
}

func TestUnsupportedTargets(t *testing.T) {
	c := New(Config{})

	_, err := c.OpenDir(smburi.Root)
	assert.Equal(t, native.ErrNotSupported, native.CodeOf(err))

	_, err = c.Stat(smburi.Server("host"))
	assert.Equal(t, native.ErrInvalidArgument, native.CodeOf(err))

	err = c.Rename(smburi.MustParse("smb://host/a/x"), smburi.MustParse("smb://host/b/x"))
	assert.Equal(t, native.ErrNotSupported, native.CodeOf(err))

	_, err = c.OpenFile(smburi.MustParse("smb://host/a/x"), "q")
	assert.Equal(t, native.ErrInvalidArgument, native.CodeOf(err))
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultPort, c.cfg.Port)
	assert.Equal(t, DefaultDialTimeout, c.cfg.DialTimeout)
	assert.NoError(t, c.Close())
}

type fileInfo struct {
	name  string
	size  int64
	mode  fs.FileMode
	mtime time.Time
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi fileInfo) ModTime() time.Time { return fi.mtime }
func (fi fileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi fileInfo) Sys() any           { return nil }

func TestDirEntryKeepsAttributes(t *testing.T) {
	mtime := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	e := dirEntry(fileInfo{name: "a.txt", size: 5, mtime: mtime})
	assert.Equal(t, native.KindFile, e.Kind)
	assert.Equal(t, "a.txt", e.Name)
	require.NotNil(t, e.Stat)
	assert.Equal(t, native.Stat{Size: 5, ModTime: mtime}, *e.Stat)

	e = dirEntry(fileInfo{name: "sub", mode: fs.ModeDir, mtime: mtime})
	assert.Equal(t, native.KindDir, e.Kind)
	require.NotNil(t, e.Stat)
	assert.True(t, e.Stat.IsDir)

	e = dirEntry(fileInfo{name: "link", mode: fs.ModeSymlink})
	assert.Equal(t, native.KindLink, e.Kind)
	assert.Nil(t, e.Stat)
}
