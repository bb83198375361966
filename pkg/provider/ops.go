package provider

import (
	"context"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/cache"
	"github.com/marmos91/dittosmb/pkg/document"
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// CreateDocument creates a file or directory called name inside parent and
// returns its id. A document already cached under that id is reset, since a
// create truncates; otherwise the new document is cached without stat.
func (p *Provider) CreateDocument(ctx context.Context, parent smburi.ID, name string, dir bool) (smburi.ID, error) {
	if !parent.InShare() {
		return "", unsupported("creating documents in %s", parent)
	}
	id, err := parent.Child(name)
	if err != nil {
		return "", native.NewError(native.ErrInvalidArgument, "create", parent, err)
	}

	if dir {
		err = p.client.Mkdir(ctx, id)
	} else {
		err = p.client.CreateFile(ctx, id)
	}
	if err != nil {
		return "", err
	}
	p.cache.Notify(parent)

	if res := p.cache.Get(id); res.State != cache.Miss {
		res.Item.Reset()
		return id, nil
	}

	opts := p.docOpts()
	kind := native.KindFile
	if dir {
		kind = native.KindDir
		opts = append(opts, document.WithChildren())
	}
	p.cache.Put(document.New(id, native.DirEntry{Kind: kind, Name: name}, opts...))
	return id, nil
}

// RenameDocument renames id within its directory and returns the new id.
func (p *Provider) RenameDocument(ctx context.Context, id smburi.ID, name string) (smburi.ID, error) {
	if !id.InShare() || id.IsShare() {
		return "", unsupported("renaming %s", id)
	}
	parent, err := id.Parent()
	if err != nil {
		return "", err
	}
	newID, err := parent.Child(name)
	if err != nil {
		return "", native.NewError(native.ErrInvalidArgument, "rename", id, err)
	}

	if err := p.client.Rename(ctx, id, newID); err != nil {
		return "", err
	}
	p.cache.Rename(id, newID)
	p.cache.Notify(parent)
	return newID, nil
}

// MoveDocument moves id into targetParent, keeping its name. Only moves
// within one share are supported.
func (p *Provider) MoveDocument(ctx context.Context, id, targetParent smburi.ID) (smburi.ID, error) {
	if !id.InShare() || id.IsShare() {
		return "", unsupported("moving %s", id)
	}
	if !id.SameShare(targetParent) {
		return "", ErrCrossShare
	}
	if id == targetParent || id.IsAncestorOf(targetParent) {
		return "", unsupported("moving %s into itself", id)
	}
	target, err := targetParent.Child(id.Name())
	if err != nil {
		return "", err
	}
	sourceParent, _ := id.Parent()

	if err := p.client.Rename(ctx, id, target); err != nil {
		return "", err
	}
	p.cache.Rename(id, target)
	p.cache.Notify(sourceParent)
	p.cache.Notify(targetParent)
	return target, nil
}

// DeleteDocument deletes id. Directories are deleted recursively from a
// fresh listing, not from the cache. A document that is already gone counts
// as deleted.
func (p *Provider) DeleteDocument(ctx context.Context, id smburi.ID) error {
	if !id.InShare() || id.IsShare() {
		return unsupported("deleting %s", id)
	}
	parent, _ := id.Parent()

	m, err := document.FromID(ctx, p.client, id, p.docOpts()...)
	switch {
	case native.IsNotFound(err):
		logger.Warn("%s is not found, nothing to delete", id)
		p.cache.RemoveTree(id)
		p.cache.Notify(parent)
		return nil
	case err != nil:
		return err
	}

	if m.IsDirectoryLike() {
		err = p.deleteTree(ctx, m)
	} else {
		err = p.deleteFile(ctx, id)
	}
	if err != nil {
		return err
	}
	p.cache.Notify(parent)
	return nil
}

func (p *Provider) deleteTree(ctx context.Context, m *document.Metadata) error {
	kids, err := m.LoadChildren(ctx, p.client, nil)
	if err != nil {
		return err
	}
	for _, k := range kids {
		if k.IsDirectoryLike() {
			err = p.deleteTree(ctx, k)
		} else {
			err = p.deleteFile(ctx, k.ID())
		}
		if err != nil {
			return err
		}
	}

	id := m.ID()
	if err := p.client.Rmdir(ctx, id); err != nil {
		return err
	}
	p.cache.RemoveTree(id)
	return nil
}

func (p *Provider) deleteFile(ctx context.Context, id smburi.ID) error {
	if err := p.client.Unlink(ctx, id); err != nil {
		return err
	}
	p.cache.Remove(id)
	return nil
}
