package smbclient

import (
	"errors"
	"io/fs"
	"net"

	"github.com/hirochachacha/go-smb2"

	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// NTSTATUS values that get a dedicated native code.
const (
	statusAccessDenied        uint32 = 0xC0000022
	statusObjectNameNotFound  uint32 = 0xC0000034
	statusObjectNameCollision uint32 = 0xC0000035
	statusObjectPathNotFound  uint32 = 0xC000003A
	statusLogonFailure        uint32 = 0xC000006D
	statusAccountDisabled     uint32 = 0xC0000072
	statusPasswordExpired     uint32 = 0xC0000071
	statusNoSuchFile          uint32 = 0xC000000F
	statusDirectoryNotEmpty   uint32 = 0xC0000101
	statusNotADirectory       uint32 = 0xC0000103
	statusBadNetworkName      uint32 = 0xC00000CC
	statusFileIsADirectory    uint32 = 0xC00000BA
)

// mapError converts a go-smb2 failure into a *native.Error. nil stays nil.
func mapError(op string, id smburi.ID, err error) error {
	if err == nil {
		return nil
	}
	var nerr *native.Error
	if errors.As(err, &nerr) {
		return err
	}
	return native.NewError(codeOf(err), op, id, err)
}

func codeOf(err error) native.ErrorCode {
	var rerr *smb2.ResponseError
	if errors.As(err, &rerr) {
		switch rerr.Code {
		case statusObjectNameNotFound, statusObjectPathNotFound, statusNoSuchFile, statusBadNetworkName:
			return native.ErrNotFound
		case statusAccessDenied, statusFileIsADirectory:
			return native.ErrAccessDenied
		case statusLogonFailure, statusAccountDisabled, statusPasswordExpired:
			return native.ErrAuthFailed
		case statusObjectNameCollision:
			return native.ErrAlreadyExists
		case statusDirectoryNotEmpty:
			return native.ErrNotEmpty
		case statusNotADirectory:
			return native.ErrNotDirectory
		}
		return native.ErrIO
	}

	var nerr net.Error
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return native.ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return native.ErrAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return native.ErrAccessDenied
	case errors.As(err, &nerr):
		return native.ErrUnreachable
	}
	return native.ErrIO
}
