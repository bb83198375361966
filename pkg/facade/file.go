package facade

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/dittosmb/internal/bufpool"
	"github.com/marmos91/dittosmb/pkg/dispatch"
	"github.com/marmos91/dittosmb/pkg/native"
	"github.com/marmos91/dittosmb/pkg/smburi"
)

// MaxChunk bounds a single native read or write. Larger transfers are split
// so that one stream cannot hold the worker for long.
const MaxChunk = bufpool.LargeSize

// File is an open remote file.
type File struct {
	d    *dispatch.Dispatcher
	id   smburi.ID
	file native.File
}

func (f *File) ID() smburi.ID { return f.id }

// Read reads up to len(p) bytes, at most MaxChunk. At end of file it
// returns io.EOF.
//
// The worker reads into a pooled buffer, so p is never touched after Read
// returns, even when ctx ends mid-call.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	size := min(len(p), MaxChunk)
	buf := bufpool.Get(size)

	v, err := f.d.Do(ctx, dispatch.ReadOp{File: f.file, ID: f.id, Buf: buf})
	if abandoned(ctx, err) {
		// The worker may still be filling buf.
		return 0, err
	}
	n, _ := v.(int)
	copy(p, buf[:n])
	bufpool.Put(buf)
	return n, err
}

// abandoned reports whether err is the caller giving up rather than a result.
func abandoned(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// Write writes p in chunks of at most MaxChunk.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		chunk := p[written:min(len(p), written+MaxChunk)]
		buf := bufpool.Get(len(chunk))
		copy(buf, chunk)

		v, err := f.d.Do(ctx, dispatch.WriteOp{File: f.file, ID: f.id, Data: buf})
		if abandoned(ctx, err) {
			return written, err
		}
		bufpool.Put(buf)
		n, _ := v.(int)
		written += n
		if err != nil {
			return written, err
		}
		if n < len(chunk) {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

func (f *File) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	return call[int64](ctx, f.d, dispatch.SeekOp{File: f.file, ID: f.id, Offset: offset, Whence: whence})
}

func (f *File) Stat(ctx context.Context) (native.Stat, error) {
	return call[native.Stat](ctx, f.d, dispatch.FileStatOp{File: f.file, ID: f.id})
}

// Close releases the native handle. Like Dir.Close it ignores ctx
// cancellation.
func (f *File) Close(ctx context.Context) error {
	return exec(context.WithoutCancel(ctx), f.d, dispatch.CloseFileOp{File: f.file, ID: f.id})
}

// Reader adapts f to io.Reader, binding every call to ctx.
func (f *File) Reader(ctx context.Context) io.Reader {
	return readerFunc(func(p []byte) (int, error) { return f.Read(ctx, p) })
}

// Writer adapts f to io.Writer, binding every call to ctx.
func (f *File) Writer(ctx context.Context) io.Writer {
	return writerFunc(func(p []byte) (int, error) { return f.Write(ctx, p) })
}

type readerFunc func([]byte) (int, error)

func (r readerFunc) Read(p []byte) (int, error) { return r(p) }

type writerFunc func([]byte) (int, error)

func (w writerFunc) Write(p []byte) (int, error) { return w(p) }
