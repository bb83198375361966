package provider

import (
	"context"
	"io"

	"github.com/marmos91/dittosmb/internal/bufpool"
	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/pkg/cache"
	"github.com/marmos91/dittosmb/pkg/facade"
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// ReadFile copies the content of id to w.
func (p *Provider) ReadFile(ctx context.Context, id smburi.ID, w io.Writer) (int64, error) {
	f, err := p.client.OpenFile(ctx, id, native.ModeRead)
	if err != nil {
		return 0, err
	}
	defer closeFile(ctx, f)

	buf := bufpool.Get(facade.MaxChunk)
	defer bufpool.Put(buf)

	return io.CopyBuffer(w, f.Reader(ctx), buf)
}

// WriteFile replaces the content of id with r. The cached document is reset
// and its listing notified once the file is closed.
func (p *Provider) WriteFile(ctx context.Context, id smburi.ID, r io.Reader) (int64, error) {
	return p.write(ctx, id, r, native.ModeWrite)
}

// AppendFile appends r to id.
func (p *Provider) AppendFile(ctx context.Context, id smburi.ID, r io.Reader) (int64, error) {
	return p.write(ctx, id, r, native.ModeAppend)
}

func (p *Provider) write(ctx context.Context, id smburi.ID, r io.Reader, mode string) (int64, error) {
	f, err := p.client.OpenFile(ctx, id, mode)
	if err != nil {
		return 0, err
	}

	buf := bufpool.Get(facade.MaxChunk)
	n, err := io.CopyBuffer(f.Writer(ctx), r, buf)
	bufpool.Put(buf)

	if cerr := f.Close(ctx); err == nil {
		err = cerr
	}

	if res := p.cache.Get(id); res.State != cache.Miss {
		res.Item.Reset()
	}
	if parent, perr := id.Parent(); perr == nil {
		p.cache.Notify(parent)
	}
	return n, err
}

func closeFile(ctx context.Context, f *facade.File) {
	if err := f.Close(ctx); err != nil {
		logger.Debug("Failed to close %s: %v", f.ID(), err)
	}
}
