// Package rawcopy is the byte engine behind secure erase and forensic
// imaging: chunked device/file copies with incremental digests, optional
// zero-filled gap marking on read errors, and overwrite passes from zero or
// cryptographically random fill.
package rawcopy

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Progress receives cumulative byte counts as a copy or wipe advances.
// bytesTotal is 0 for indeterminate transfers.
type Progress func(bytesDone, bytesTotal int64)

// ReadError wraps a mid-copy source failure together with the progress
// accumulated before it.
type ReadError struct {
	Offset       int64
	BytesWritten int64
	Err          error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read error at offset %d after %d bytes: %v", e.Offset, e.BytesWritten, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Options configures one raw image copy.
type Options struct {
	SourcePath string
	DestPath   string // empty routes the copy to a discard sink (verify-only)
	BlockSize  int64
	// BlockCount, when positive, overrides the derived count: the destination
	// is exactly BlockCount x BlockSize bytes regardless of source size.
	BlockCount int64
	Hashes     []string
	// Resilient substitutes a zeroed block for each failed read instead of
	// aborting, counting the gap in Result.ErrorBlocks.
	Resilient bool
	Progress  Progress
}

// Result reports what a copy or wipe actually did.
type Result struct {
	BytesWritten int64
	ErrorBlocks  int64
	BlockSize    int64
	BlockCount   int64
	Digests      map[string]string
	Duration     time.Duration
}

// Copy streams SourcePath into DestPath in BlockSize chunks. Digests are
// computed over the bytes written, so re-running with a different block size
// over an error-free source yields identical values.
func Copy(ctx context.Context, opts Options) (Result, error) {
	if opts.BlockSize <= 0 {
		return Result{}, fmt.Errorf("block size must be positive, got %d", opts.BlockSize)
	}
	digests, err := newDigestSet(opts.Hashes)
	if err != nil {
		return Result{}, err
	}

	src, err := os.Open(opts.SourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	srcSize, err := sizeOf(src)
	if err != nil {
		return Result{}, fmt.Errorf("size source: %w", err)
	}

	explicit := opts.BlockCount > 0
	count := opts.BlockCount
	total := count * opts.BlockSize
	if !explicit {
		count = (srcSize + opts.BlockSize - 1) / opts.BlockSize
		total = srcSize
	}

	var dst io.Writer = io.Discard
	if opts.DestPath != "" {
		f, err := os.OpenFile(opts.DestPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return Result{}, fmt.Errorf("open destination: %w", err)
		}
		defer f.Close()
		dst = f
	}

	return copyBlocks(ctx, src, dst, digests, opts, count, total, explicit)
}

func copyBlocks(ctx context.Context, src io.ReaderAt, dst io.Writer, digests *digestSet,
	opts Options, count, total int64, explicit bool) (Result, error) {
	start := time.Now()
	res := Result{BlockSize: opts.BlockSize, BlockCount: count}
	buf := make([]byte, opts.BlockSize)

	for block := int64(0); block < count; block++ {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		offset := block * opts.BlockSize
		want := opts.BlockSize
		if !explicit && offset+want > total {
			want = total - offset
		}
		chunk := buf[:want]

		n, rerr := src.ReadAt(chunk, offset)
		switch {
		case rerr == nil || (errors.Is(rerr, io.EOF) && int64(n) == want):
			// full block
		case errors.Is(rerr, io.EOF) && explicit:
			// source exhausted before the requested count: pad with zeros
			zero(chunk[n:])
		case opts.Resilient:
			zero(chunk)
			res.ErrorBlocks++
		default:
			res.Duration = time.Since(start)
			return res, &ReadError{Offset: offset, BytesWritten: res.BytesWritten, Err: rerr}
		}

		if _, werr := dst.Write(chunk); werr != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("write at offset %d: %w", offset, werr)
		}
		digests.Write(chunk)
		res.BytesWritten += want
		if opts.Progress != nil {
			opts.Progress(res.BytesWritten, total)
		}
	}

	res.Digests = digests.Sums()
	res.Duration = time.Since(start)
	return res, nil
}

// WipeOptions configures one overwrite pass.
type WipeOptions struct {
	DestPath  string
	Size      int64 // 0 derives the size from the target
	BlockSize int64
	Random    bool // cryptographically random fill instead of zeros
	Progress  Progress
}

// Wipe overwrites exactly Size bytes of DestPath with the chosen fill,
// in BlockSize chunks.
func Wipe(ctx context.Context, opts WipeOptions) (Result, error) {
	if opts.BlockSize <= 0 {
		return Result{}, fmt.Errorf("block size must be positive, got %d", opts.BlockSize)
	}

	f, err := os.OpenFile(opts.DestPath, os.O_WRONLY, 0)
	if err != nil {
		return Result{}, fmt.Errorf("open target: %w", err)
	}
	defer f.Close()

	size := opts.Size
	if size <= 0 {
		if size, err = sizeOf(f); err != nil {
			return Result{}, fmt.Errorf("size target: %w", err)
		}
	}

	start := time.Now()
	res := Result{BlockSize: opts.BlockSize}
	buf := make([]byte, opts.BlockSize)

	for res.BytesWritten < size {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		chunk := buf
		if remaining := size - res.BytesWritten; remaining < opts.BlockSize {
			chunk = buf[:remaining]
		}
		if opts.Random {
			if _, err := crand.Read(chunk); err != nil {
				res.Duration = time.Since(start)
				return res, fmt.Errorf("random fill: %w", err)
			}
		}
		if _, err := f.Write(chunk); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("write at offset %d: %w", res.BytesWritten, err)
		}
		res.BytesWritten += int64(len(chunk))
		res.BlockCount++
		if opts.Progress != nil {
			opts.Progress(res.BytesWritten, size)
		}
	}

	if err := f.Sync(); err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("sync target: %w", err)
	}
	res.Duration = time.Since(start)
	return res, nil
}

// TargetSize reports the addressable size of a file or block device node.
func TargetSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return sizeOf(f)
}

// sizeOf handles both regular files and device nodes; devices report zero
// from Stat, so seek-to-end is the authoritative answer for them.
func sizeOf(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Mode().IsRegular() {
		return info.Size(), nil
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

func zero(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
