// Package facade provides typed, context-aware wrappers over the dispatcher.
//
// Each method turns its arguments into a dispatch.Operation, blocks until the
// worker has run it and converts the untyped result back. Wrappers hold no
// state besides the dispatcher and the native handle they stand for, so they
// are cheap to copy and safe to share between goroutines; the dispatcher
// does the serializing.
package facade

import (
	"context"
	"fmt"

	"github.com/marmos91/dittosmb/pkg/dispatch"
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// Client is the typed counterpart of native.Client.
type Client struct {
	d *dispatch.Dispatcher
}

// New binds a Client to d.
func New(d *dispatch.Dispatcher) *Client {
	return &Client{d: d}
}

// Dispatcher returns the underlying dispatcher.
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.d }

// call runs op and asserts its result type.
func call[T any](ctx context.Context, d *dispatch.Dispatcher, op dispatch.Operation) (T, error) {
	var zero T
	v, err := d.Do(ctx, op)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, native.NewError(native.ErrInternal, op.Kind().String(), op.Target(),
			fmt.Errorf("unexpected result type %T", v))
	}
	return t, nil
}

func exec(ctx context.Context, d *dispatch.Dispatcher, op dispatch.Operation) error {
	_, err := d.Do(ctx, op)
	return err
}

// Reset drops native sessions.
func (c *Client) Reset(ctx context.Context) error {
	return c.d.Reset(ctx)
}

// OpenDir opens a listing cursor on id.
func (c *Client) OpenDir(ctx context.Context, id smburi.ID) (*Dir, error) {
	nd, err := call[native.Dir](ctx, c.d, dispatch.OpenDirOp{ID: id})
	if err != nil {
		return nil, err
	}
	return &Dir{d: c.d, id: id, dir: nd}, nil
}

func (c *Client) Stat(ctx context.Context, id smburi.ID) (native.Stat, error) {
	return call[native.Stat](ctx, c.d, dispatch.StatOp{ID: id})
}

func (c *Client) CreateFile(ctx context.Context, id smburi.ID) error {
	return exec(ctx, c.d, dispatch.CreateFileOp{ID: id})
}

func (c *Client) Mkdir(ctx context.Context, id smburi.ID) error {
	return exec(ctx, c.d, dispatch.MkdirOp{ID: id})
}

func (c *Client) Rename(ctx context.Context, id, newID smburi.ID) error {
	return exec(ctx, c.d, dispatch.RenameOp{ID: id, NewID: newID})
}

func (c *Client) Unlink(ctx context.Context, id smburi.ID) error {
	return exec(ctx, c.d, dispatch.UnlinkOp{ID: id})
}

func (c *Client) Rmdir(ctx context.Context, id smburi.ID) error {
	return exec(ctx, c.d, dispatch.RmdirOp{ID: id})
}

// OpenFile opens id with a native open mode (native.ModeRead, ...).
func (c *Client) OpenFile(ctx context.Context, id smburi.ID, mode string) (*File, error) {
	nf, err := call[native.File](ctx, c.d, dispatch.OpenFileOp{ID: id, Mode: mode})
	if err != nil {
		return nil, err
	}
	return &File{d: c.d, id: id, file: nf}, nil
}

// Credentials returns the credential cache wrapper.
func (c *Client) Credentials() *Credentials {
	return &Credentials{d: c.d}
}

// Dir is an open listing cursor.
type Dir struct {
	d   *dispatch.Dispatcher
	id  smburi.ID
	dir native.Dir
}

func (d *Dir) ID() smburi.ID { return d.id }

// ReadDir returns the next entry, or nil at the end of the listing.
func (d *Dir) ReadDir(ctx context.Context) (*native.DirEntry, error) {
	return call[*native.DirEntry](ctx, d.d, dispatch.ReadDirOp{Dir: d.dir, ID: d.id})
}

// Close releases the cursor. It is submitted even when ctx is already done so
// that the native handle is not leaked.
func (d *Dir) Close(ctx context.Context) error {
	return exec(context.WithoutCancel(ctx), d.d, dispatch.CloseDirOp{Dir: d.dir, ID: d.id})
}

// Credentials wraps the native credential cache.
type Credentials struct {
	d *dispatch.Dispatcher
}

// Put registers a credential for a host or share.
func (c *Credentials) Put(ctx context.Context, id smburi.ID, domain, username, password string) error {
	return exec(ctx, c.d, dispatch.PutCredentialOp{ID: id, Domain: domain, Username: username, Password: password})
}

func (c *Credentials) Remove(ctx context.Context, id smburi.ID) error {
	return exec(ctx, c.d, dispatch.RemoveCredentialOp{ID: id})
}
