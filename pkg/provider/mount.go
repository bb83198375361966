package provider

import (
	"context"
	"errors"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/document"
	"github.com/marmos91/dittosmb/pkg/share"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// Mount registers a share. The credential is installed, the share is listed
// to prove it is reachable and, if that works, the share and its children are
// cached and the record is persisted. An empty username or password mounts
// the share as guest.
func (p *Provider) Mount(ctx context.Context, id smburi.ID, domain, username, password string) error {
	if !id.IsShare() {
		return unsupported("mounting %s", id)
	}
	if p.shares == nil {
		return errors.New("provider: no share registry configured")
	}

	m := document.NewShare(id, p.docOpts()...)
	check := func(ctx context.Context) error {
		return p.loadChildren(context.WithoutCancel(ctx), p.cache.Put(m))
	}

	rec := share.Record{ID: id, Domain: domain, Username: username, Mounted: true}
	if err := p.shares.Add(ctx, rec, password, check); err != nil {
		if !errors.Is(err, share.ErrAlreadyMounted) {
			p.cache.RemoveTree(id)
		}
		return err
	}
	logger.Info("Mounted %s", id)
	return nil
}

// Unmount forgets a share and everything cached under it.
func (p *Provider) Unmount(ctx context.Context, id smburi.ID) error {
	if p.shares == nil {
		return nil
	}
	if err := p.shares.Unmount(ctx, id); err != nil {
		return err
	}
	p.cache.RemoveTree(id)
	return nil
}
