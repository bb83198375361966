// Package provider serves the document tree of mounted SMB shares.
//
// Reads go through the metadata cache first. A miss or an expired entry
// starts a refresh through the task manager, so at most one refresh per
// document is in flight; an expired listing is still served while it
// refreshes. File attributes that a listing does not carry are fetched by a
// rate limited background pass after the listing is returned.
//
// Writes go straight to the native client and then patch the cache and
// notify subscribers of the affected listings.
package provider

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/marmos91/dittosmb/internal/clock"
	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/internal/ratelimiter"
	"github.com/marmos91/dittosmb/pkg/cache"
	"github.com/marmos91/dittosmb/pkg/dispatch"
	"github.com/marmos91/dittosmb/pkg/document"
	"github.com/marmos91/dittosmb/pkg/facade"
	"github.com/marmos91/dittosmb/pkg/share"
	"github.com/marmos91/dittosmb/pkg/smburi"
	"github.com/marmos91/dittosmb/pkg/task"
)

var (
	// ErrNotDirectory is returned when children are requested for a file.
	ErrNotDirectory = errors.New("provider: not a directory")

	// ErrUnsupported is returned for operations that make no sense on the
	// target, such as renaming a share.
	ErrUnsupported = errors.New("provider: operation not supported")

	// ErrCrossShare is returned for moves between shares or hosts.
	ErrCrossShare = errors.New("provider: move across shares not supported")
)

// Options wires a Provider. Client is required; everything else has a
// default.
type Options struct {
	Client *facade.Client
	Cache  *cache.Cache
	Tasks  *task.Manager

	// Shares lists the mounted shares. When nil Roots is empty and Mount
	// fails.
	Shares *share.Manager

	// StatLimiter paces the background stat pass. Nil means unlimited.
	StatLimiter *ratelimiter.RateLimiter

	Clock clock.Clock
}

// Provider serves documents.
//
// Thread Safety: Safe for concurrent use.
type Provider struct {
	client  *facade.Client
	cache   *cache.Cache
	tasks   *task.Manager
	shares  *share.Manager
	limiter *ratelimiter.RateLimiter
	clock   clock.Clock

	loads singleflight.Group
}

// New creates a Provider.
func New(opts Options) (*Provider, error) {
	if opts.Client == nil {
		return nil, errors.New("provider: client is required")
	}
	p := &Provider{
		client:  opts.Client,
		cache:   opts.Cache,
		tasks:   opts.Tasks,
		shares:  opts.Shares,
		limiter: opts.StatLimiter,
		clock:   opts.Clock,
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.cache == nil {
		p.cache = cache.New(cache.WithClock(p.clock))
	}
	if p.tasks == nil {
		p.tasks = task.New()
	}
	if p.shares != nil {
		p.shares.AddListener(func() { p.cache.Notify(smburi.Root) })
	}
	return p, nil
}

// Cache returns the metadata cache.
func (p *Provider) Cache() *cache.Cache { return p.cache }

// Subscribe registers fn to be called with the id of a listing whose content
// changed. Shares being mounted or unmounted are reported as smburi.Root.
func (p *Provider) Subscribe(fn func(smburi.ID)) {
	p.cache.Subscribe(fn)
}

// Reset drops native sessions, e.g. after a network change. Cached data is
// kept.
func (p *Provider) Reset(ctx context.Context) error {
	logger.Info("Resetting native client")
	return p.client.Reset(ctx)
}

// Close stops background tasks.
func (p *Provider) Close(ctx context.Context) error {
	return p.tasks.Close(ctx)
}

func (p *Provider) docOpts() []document.Option {
	return []document.Option{document.WithClock(p.clock)}
}

// Roots returns the mounted shares.
func (p *Provider) Roots(ctx context.Context) ([]*document.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.shares == nil {
		return nil, nil
	}

	var roots []*document.Metadata
	for _, rec := range p.shares.List() {
		if !rec.Mounted {
			continue
		}
		res := p.cache.Get(rec.ID)
		item := res.Item
		if res.State == cache.Miss {
			item = p.cache.Put(document.NewShare(rec.ID, p.docOpts()...))
		}
		roots = append(roots, item)
	}
	return roots, nil
}

// QueryDocument returns the metadata of id, from the cache when possible.
// Concurrent misses for the same id share one native stat.
func (p *Provider) QueryDocument(ctx context.Context, id smburi.ID) (*document.Metadata, error) {
	res := p.cache.Get(id)
	if res.State != cache.Miss {
		return res.Item, nil
	}

	switch {
	case id.IsServer():
		return p.cache.Put(document.NewServer(id, p.docOpts()...)), nil
	case p.shares != nil && p.shares.Contains(id):
		return p.cache.Put(document.NewShare(id, p.docOpts()...)), nil
	}
	return p.fetch(ctx, id)
}

// fetch stats id and caches the result. The native call is not abandoned
// when ctx ends; only the wait is.
func (p *Provider) fetch(ctx context.Context, id smburi.ID) (*document.Metadata, error) {
	ch := p.loads.DoChan(string(id), func() (any, error) {
		m, err := document.FromID(context.WithoutCancel(ctx), p.client, id, p.docOpts()...)
		if err != nil {
			return nil, err
		}
		logger.Debug("Loaded document %s", m)
		return p.cache.Put(m), nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*document.Metadata), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// loadDocument is fetch that leaves a sticky error behind on failure.
func (p *Provider) loadDocument(ctx context.Context, id smburi.ID) error {
	_, err := p.fetch(ctx, id)
	if err != nil && sticky(err) {
		p.cache.PutError(id, err)
	}
	return err
}

// sticky reports whether err says something about the remote document
// rather than about the caller or the dispatcher.
func sticky(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, dispatch.ErrClosed)
}

func notDirectory(id smburi.ID) error {
	return fmt.Errorf("%w: %s", ErrNotDirectory, id)
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}
