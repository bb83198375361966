package provider

import (
	"context"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/cache"
	"github.com/marmos91/dittosmb/pkg/document"
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
	"github.com/marmos91/dittosmb/pkg/task"
)

// Listing is the result of QueryChildren.
type Listing struct {
	Parent   *document.Metadata
	Children []*document.Metadata

	// Refresh is set when stale children were returned while a refresh of
	// the listing runs.
	Refresh *task.Handle

	// Loading is set when some children are missing attributes, or carry
	// attributes from before the last listing, and a background pass is
	// fetching them. Stat is that pass.
	Loading bool
	Stat    *task.Handle
}

// maxJoins bounds how often a caller that needs children waits for a
// refresh that finished without leaving any.
const maxJoins = 3

// statKey is the task key of the attribute pass over the children of id. It
// differs from every resource identifier, so a running pass never stands in
// for a listing refresh of the same directory.
func statKey(id smburi.ID) smburi.ID {
	return id + "\x00stat"
}

// QueryChildren lists the children of id.
//
// Children are served from the cache when present, even if expired; an
// expired listing starts a refresh in the background. When no children were
// ever loaded the call waits for the listing. A failure from a previous
// attempt is returned once before anything is retried.
func (p *Provider) QueryChildren(ctx context.Context, id smburi.ID) (*Listing, error) {
	if id.IsRoot() {
		return nil, unsupported("network browsing of %s", id)
	}

	if id.IsServer() && p.cache.Get(id).State == cache.Miss {
		p.cache.Put(document.NewServer(id, p.docOpts()...))
	}

	res := p.cache.Get(id)
	if res.State == cache.Miss {
		if err := p.cache.TakeError(id); err != nil {
			return nil, err
		}
		if err := p.loadDocument(ctx, id); err != nil {
			return nil, err
		}
		if res = p.cache.Get(id); res.State == cache.Miss {
			return nil, native.NewError(native.ErrNotFound, "list", id, nil)
		}
	}

	m := res.Item
	if !m.IsDirectoryLike() {
		return nil, notDirectory(id)
	}
	if err := m.TakeChildError(); err != nil {
		return nil, err
	}

	listing := &Listing{Parent: m}

	if !m.HasChildren() || res.State == cache.Expired {
		h, _ := p.tasks.RunOrJoin(id, p.refreshTask(m))
		if m.HasChildren() {
			listing.Refresh = h
		} else if err := p.waitForChildren(ctx, m, h); err != nil {
			return nil, err
		}
	}

	kids, ok := p.cache.Children(id)
	if !ok {
		return listing, nil
	}
	listing.Children = kids

	var pending []*document.Metadata
	for _, c := range kids {
		if c.NeedsStat() && !c.HasStatFailed() {
			pending = append(pending, c)
		}
	}
	if len(pending) > 0 {
		h, _ := p.tasks.RunOrJoin(statKey(id), p.statTask(id, pending))
		listing.Loading = true
		listing.Stat = h
	}
	return listing, nil
}

// waitForChildren waits on the refresh h until m has children. A refresh
// that ended without them, because m was reset while it ran, is started
// again.
func (p *Provider) waitForChildren(ctx context.Context, m *document.Metadata, h *task.Handle) error {
	for i := 0; ; i++ {
		if err := h.Wait(ctx); err != nil {
			return err
		}
		if m.HasChildren() || i == maxJoins {
			return nil
		}
		h, _ = p.tasks.RunOrJoin(m.ID(), p.refreshTask(m))
	}
}

// refreshTask reloads the children of m. It runs to completion regardless of
// who asked for it.
func (p *Provider) refreshTask(m *document.Metadata) task.Func {
	return func(ctx context.Context) error {
		return p.loadChildren(ctx, m)
	}
}

// loadChildren lists m, caches every child before the parent refers to it
// and drops children that disappeared.
func (p *Provider) loadChildren(ctx context.Context, m *document.Metadata) error {
	id := m.ID()
	before, _ := m.ChildIDs()

	_, err := m.LoadChildren(ctx, p.client, func(kids []*document.Metadata) {
		for _, k := range kids {
			p.cache.Put(k)
		}
	})
	if err != nil {
		logger.Debug("Failed to load children of %s: %v", id, err)
		return err
	}

	after, _ := m.ChildIDs()
	kept := make(map[smburi.ID]struct{}, len(after))
	for _, c := range after {
		kept[c] = struct{}{}
	}
	for _, c := range before {
		if _, ok := kept[c]; !ok {
			p.cache.RemoveTree(c)
		}
	}

	p.cache.Notify(id)
	return nil
}

// statTask fetches attributes for pending one by one, paced by the stat
// limiter. Failures are remembered on each child so the next pass skips it.
func (p *Provider) statTask(parent smburi.ID, pending []*document.Metadata) task.Func {
	return func(ctx context.Context) error {
		loaded := 0
		for _, c := range pending {
			if err := p.limiter.Wait(ctx); err != nil {
				break
			}
			if err := c.LoadStat(ctx, p.client); err != nil {
				logger.Debug("Failed to load stat for %s: %v", c.ID(), err)
			} else {
				loaded++
			}
			if ctx.Err() != nil {
				break
			}
		}
		logger.Debug("Stat pass for %s loaded %d of %d", parent, loaded, len(pending))
		p.cache.Notify(parent)
		return nil
	}
}
