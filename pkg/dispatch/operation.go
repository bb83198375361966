package dispatch

import (
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// OpKind names an operation for logging and metrics.
type OpKind int

const (
	OpReset OpKind = iota
	OpOpenDir
	OpReadDir
	OpCloseDir
	OpStat
	OpCreateFile
	OpMkdir
	OpRename
	OpUnlink
	OpRmdir
	OpOpenFile
	OpRead
	OpWrite
	OpSeek
	OpFileStat
	OpCloseFile
	OpPutCredential
	OpRemoveCredential
)

var opNames = [...]string{
	OpReset:            "reset",
	OpOpenDir:          "opendir",
	OpReadDir:          "readdir",
	OpCloseDir:         "closedir",
	OpStat:             "stat",
	OpCreateFile:       "create",
	OpMkdir:            "mkdir",
	OpRename:           "rename",
	OpUnlink:           "unlink",
	OpRmdir:            "rmdir",
	OpOpenFile:         "openfile",
	OpRead:             "read",
	OpWrite:            "write",
	OpSeek:             "seek",
	OpFileStat:         "fstat",
	OpCloseFile:        "closefile",
	OpPutCredential:    "putcredential",
	OpRemoveCredential: "removecredential",
}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return "unknown"
}

// Operation is one unit of work for the worker. The set of operations is
// closed: only types in this package implement it.
type Operation interface {
	Kind() OpKind
	Target() smburi.ID
	execute(c native.Client) (any, error)
}

// ResetOp drops the native client's sessions.
type ResetOp struct{}

func (ResetOp) Kind() OpKind      { return OpReset }
func (ResetOp) Target() smburi.ID { return "" }
func (ResetOp) execute(c native.Client) (any, error) {
	return nil, c.Reset()
}

// OpenDirOp yields a native.Dir.
type OpenDirOp struct{ ID smburi.ID }

func (OpenDirOp) Kind() OpKind        { return OpOpenDir }
func (o OpenDirOp) Target() smburi.ID { return o.ID }
func (o OpenDirOp) execute(c native.Client) (any, error) {
	d, err := c.OpenDir(o.ID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ReadDirOp yields a *native.DirEntry, nil at the end of the listing.
type ReadDirOp struct {
	Dir native.Dir
	ID  smburi.ID
}

func (ReadDirOp) Kind() OpKind        { return OpReadDir }
func (o ReadDirOp) Target() smburi.ID { return o.ID }
func (o ReadDirOp) execute(native.Client) (any, error) {
	e, err := o.Dir.ReadDir()
	if err != nil {
		return nil, err
	}
	return e, nil
}

type CloseDirOp struct {
	Dir native.Dir
	ID  smburi.ID
}

func (CloseDirOp) Kind() OpKind        { return OpCloseDir }
func (o CloseDirOp) Target() smburi.ID { return o.ID }
func (o CloseDirOp) execute(native.Client) (any, error) {
	return nil, o.Dir.Close()
}

// StatOp yields a native.Stat.
type StatOp struct{ ID smburi.ID }

func (StatOp) Kind() OpKind        { return OpStat }
func (o StatOp) Target() smburi.ID { return o.ID }
func (o StatOp) execute(c native.Client) (any, error) {
	st, err := c.Stat(o.ID)
	if err != nil {
		return nil, err
	}
	return st, nil
}

type CreateFileOp struct{ ID smburi.ID }

func (CreateFileOp) Kind() OpKind        { return OpCreateFile }
func (o CreateFileOp) Target() smburi.ID { return o.ID }
func (o CreateFileOp) execute(c native.Client) (any, error) {
	return nil, c.CreateFile(o.ID)
}

type MkdirOp struct{ ID smburi.ID }

func (MkdirOp) Kind() OpKind        { return OpMkdir }
func (o MkdirOp) Target() smburi.ID { return o.ID }
func (o MkdirOp) execute(c native.Client) (any, error) {
	return nil, c.Mkdir(o.ID)
}

type RenameOp struct{ ID, NewID smburi.ID }

func (RenameOp) Kind() OpKind        { return OpRename }
func (o RenameOp) Target() smburi.ID { return o.ID }
func (o RenameOp) execute(c native.Client) (any, error) {
	return nil, c.Rename(o.ID, o.NewID)
}

type UnlinkOp struct{ ID smburi.ID }

func (UnlinkOp) Kind() OpKind        { return OpUnlink }
func (o UnlinkOp) Target() smburi.ID { return o.ID }
func (o UnlinkOp) execute(c native.Client) (any, error) {
	return nil, c.Unlink(o.ID)
}

type RmdirOp struct{ ID smburi.ID }

func (RmdirOp) Kind() OpKind        { return OpRmdir }
func (o RmdirOp) Target() smburi.ID { return o.ID }
func (o RmdirOp) execute(c native.Client) (any, error) {
	return nil, c.Rmdir(o.ID)
}

// OpenFileOp yields a native.File.
type OpenFileOp struct {
	ID   smburi.ID
	Mode string
}

func (OpenFileOp) Kind() OpKind        { return OpOpenFile }
func (o OpenFileOp) Target() smburi.ID { return o.ID }
func (o OpenFileOp) execute(c native.Client) (any, error) {
	f, err := c.OpenFile(o.ID, o.Mode)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ReadOp reads into Buf and yields the byte count. Buf belongs to the
// operation until the result is delivered.
type ReadOp struct {
	File native.File
	ID   smburi.ID
	Buf  []byte
}

func (ReadOp) Kind() OpKind        { return OpRead }
func (o ReadOp) Target() smburi.ID { return o.ID }
func (o ReadOp) execute(native.Client) (any, error) {
	return o.File.Read(o.Buf)
}

// WriteOp writes Data and yields the byte count.
type WriteOp struct {
	File native.File
	ID   smburi.ID
	Data []byte
}

func (WriteOp) Kind() OpKind        { return OpWrite }
func (o WriteOp) Target() smburi.ID { return o.ID }
func (o WriteOp) execute(native.Client) (any, error) {
	return o.File.Write(o.Data)
}

// SeekOp yields the new offset.
type SeekOp struct {
	File   native.File
	ID     smburi.ID
	Offset int64
	Whence int
}

func (SeekOp) Kind() OpKind        { return OpSeek }
func (o SeekOp) Target() smburi.ID { return o.ID }
func (o SeekOp) execute(native.Client) (any, error) {
	return o.File.Seek(o.Offset, o.Whence)
}

// FileStatOp yields a native.Stat for an open file.
type FileStatOp struct {
	File native.File
	ID   smburi.ID
}

func (FileStatOp) Kind() OpKind        { return OpFileStat }
func (o FileStatOp) Target() smburi.ID { return o.ID }
func (o FileStatOp) execute(native.Client) (any, error) {
	st, err := o.File.Stat()
	if err != nil {
		return nil, err
	}
	return st, nil
}

type CloseFileOp struct {
	File native.File
	ID   smburi.ID
}

func (CloseFileOp) Kind() OpKind        { return OpCloseFile }
func (o CloseFileOp) Target() smburi.ID { return o.ID }
func (o CloseFileOp) execute(native.Client) (any, error) {
	return nil, o.File.Close()
}

type PutCredentialOp struct {
	ID       smburi.ID
	Domain   string
	Username string
	Password string
}

func (PutCredentialOp) Kind() OpKind        { return OpPutCredential }
func (o PutCredentialOp) Target() smburi.ID { return o.ID }
func (o PutCredentialOp) execute(c native.Client) (any, error) {
	return nil, c.PutCredential(o.ID, o.Domain, o.Username, o.Password)
}

type RemoveCredentialOp struct{ ID smburi.ID }

func (RemoveCredentialOp) Kind() OpKind        { return OpRemoveCredential }
func (o RemoveCredentialOp) Target() smburi.ID { return o.ID }
func (o RemoveCredentialOp) execute(c native.Client) (any, error) {
	return nil, c.RemoveCredential(o.ID)
}
