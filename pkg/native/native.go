// Package native defines the capability boundary to the SMB client library.
//
// A Client is blocking and NOT safe for concurrent use: every method must be
// invoked from the same goroutine. The dispatch package owns that goroutine;
// nothing else should hold a Client.
package native

import (
	"time"

	"github.com/marmos91/dittosmb/pkg/smburi"
)

// EntryKind classifies a directory entry.
type EntryKind int

const (
	KindWorkgroup EntryKind = iota
	KindServer
	KindFileShare
	KindPrinterShare
	KindCommsShare
	KindIPCShare
	KindDir
	KindFile
	KindLink
)

func (k EntryKind) String() string {
	switch k {
	case KindWorkgroup:
		return "workgroup"
	case KindServer:
		return "server"
	case KindFileShare:
		return "share"
	case KindPrinterShare:
		return "printer"
	case KindCommsShare:
		return "comms"
	case KindIPCShare:
		return "ipc"
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// DirEntry is one item returned by Dir.ReadDir.
type DirEntry struct {
	Kind    EntryKind
	Name    string
	Comment string

	// Stat is set when the listing carries attributes for the entry.
	Stat *Stat
}

// Stat is the subset of file attributes the provider exposes.
type Stat struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Open modes accepted by Client.OpenFile, following fopen conventions.
const (
	ModeRead      = "r"
	ModeWrite     = "w"
	ModeReadWrite = "rw"
	ModeAppend    = "wa"
	ModeTruncate  = "wt"
)

// Dir is an open directory cursor.
type Dir interface {
	// ReadDir returns the next entry, or nil once the listing is exhausted.
	ReadDir() (*DirEntry, error)
	Close() error
}

// File is an open remote file.
type File interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Stat() (Stat, error)
	Close() error
}

// CredentialCache holds credentials for hosts or shares. A credential
// registered for smb://host/share takes precedence over one registered for
// smb://host.
type CredentialCache interface {
	PutCredential(id smburi.ID, domain, username, password string) error
	RemoveCredential(id smburi.ID) error
}

// Client is the native SMB capability.
type Client interface {
	CredentialCache

	// OpenDir lists the root (workgroups), a server (shares) or a directory.
	OpenDir(id smburi.ID) (Dir, error)

	Stat(id smburi.ID) (Stat, error)
	CreateFile(id smburi.ID) error
	Mkdir(id smburi.ID) error
	Rename(id, newID smburi.ID) error
	Unlink(id smburi.ID) error
	Rmdir(id smburi.ID) error
	OpenFile(id smburi.ID, mode string) (File, error)

	// Reset drops sessions and cached connections. The next call reconnects.
	Reset() error

	Close() error
}
