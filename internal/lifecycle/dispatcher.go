// Package lifecycle drives destructive device operations through a fixed
// state machine: authorize against a fresh inventory, claim the device,
// run, and report the outcome with partial counters on failure.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"usbctl/internal/blockdev"
	"usbctl/internal/fsbackend"
	"usbctl/internal/rawcopy"
	"usbctl/internal/report"
	"usbctl/internal/safety"
	"usbctl/pkg/shell"
)

const (
	// DefaultCommandTimeout bounds each external tool invocation. mkfs on
	// large slow media is the long pole.
	DefaultCommandTimeout = 10 * time.Minute

	settleTimeout = 10 * time.Second
	settlePoll    = 200 * time.Millisecond

	// scanTimeout bounds a full-surface badblocks write test, which takes
	// hours on large media.
	scanTimeout = 24 * time.Hour
)

// Outcome is the terminal record of one operation.
type Outcome struct {
	Status         Status
	BytesProcessed int64
	ErrorCount     int64
	Duration       time.Duration
	Passes         int
	Digests        map[string]string
	ReportPath     string
}

// Dispatcher serializes operations per device and owns the external-tool
// plumbing. Zero value is not usable; construct with New.
type Dispatcher struct {
	log        zerolog.Logger
	progress   *Reporter
	claims     *claimTable
	cmdTimeout time.Duration

	run           func(ctx context.Context, timeout time.Duration, name string, args ...string) (shell.Result, error)
	authorize     func(ctx context.Context, path string, force bool) (safety.Result, error)
	wipe          func(ctx context.Context, opts rawcopy.WipeOptions) (rawcopy.Result, error)
	copyImage     func(ctx context.Context, opts rawcopy.Options) (rawcopy.Result, error)
	detectFS      func(ctx context.Context, path string) (string, error)
	targetSize    func(path string) (int64, error)
	stat          func(path string) (os.FileInfo, error)
	persistReport func(dir string, r report.Report) (string, error)
}

func New(log zerolog.Logger, progress *Reporter) *Dispatcher {
	return &Dispatcher{
		log:           log,
		progress:      progress,
		claims:        newClaimTable(),
		cmdTimeout:    DefaultCommandTimeout,
		run:           shell.Run,
		authorize:     safety.Authorize,
		wipe:          rawcopy.Wipe,
		copyImage:     rawcopy.Copy,
		detectFS:      blockdev.DetectFilesystem,
		targetSize:    rawcopy.TargetSize,
		stat:          os.Stat,
		persistReport: report.Write,
	}
}

// FormatRequest creates a single full-size partition and filesystem on a
// whole disk, destroying whatever was there.
type FormatRequest struct {
	Device     string
	Filesystem string
	Label      string
	Force      bool
}

func (d *Dispatcher) Format(ctx context.Context, req FormatRequest) (Outcome, error) {
	backend, err := fsbackend.Resolve(req.Filesystem)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	release, err := d.claims.acquire(req.Device)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	defer release()

	if _, err := d.begin(ctx, "format", req.Device, req.Force); err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	start := time.Now()
	steps := [][]string{
		{"wipefs", "-af", req.Device},
		{"parted", "-s", req.Device, "mklabel", "gpt"},
		{"parted", "-s", req.Device, "mkpart", "primary", backend.PartedType, "1MiB", "100%"},
		{"partprobe", req.Device},
	}
	for _, argv := range steps {
		if err := d.runStep(ctx, argv); err != nil {
			return d.finish(start, Outcome{}, err)
		}
	}

	part := PartitionPath(req.Device)
	if err := d.waitForPartition(ctx, part); err != nil {
		return d.finish(start, Outcome{}, err)
	}
	if err := d.runStep(ctx, backend.FormatArgs(part, req.Label)); err != nil {
		return d.finish(start, Outcome{}, err)
	}
	d.log.Info().Str("device", req.Device).Str("fs", string(backend.Kind)).Msg("format complete")
	return d.finish(start, Outcome{}, nil)
}

// RepairRequest runs the filesystem's consistency check against a partition.
type RepairRequest struct {
	Device string
	Force  bool
}

func (d *Dispatcher) Repair(ctx context.Context, req RepairRequest) (Outcome, error) {
	release, err := d.claims.acquire(req.Device)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	defer release()

	if _, err := d.begin(ctx, "repair", req.Device, req.Force); err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	start := time.Now()
	fstype, err := d.detectFS(ctx, req.Device)
	if err != nil {
		return d.finish(start, Outcome{}, err)
	}
	backend, err := fsbackend.Resolve(fstype)
	if err != nil {
		return d.finish(start, Outcome{}, err)
	}
	d.log.Info().Str("device", req.Device).Str("fs", fstype).Msg("running repair")
	if err := d.runStep(ctx, backend.RepairArgs(req.Device)); err != nil {
		return d.finish(start, Outcome{}, err)
	}
	return d.finish(start, Outcome{}, nil)
}

// EraseRequest overwrites the whole device, Passes times in sequence.
type EraseRequest struct {
	Device    string
	Passes    int
	BlockSize int64
	Random    bool
	Force     bool
}

func (d *Dispatcher) Erase(ctx context.Context, req EraseRequest) (Outcome, error) {
	if req.Passes < 1 {
		return Outcome{Status: StatusFailed}, &ConfigError{Reason: fmt.Sprintf("pass count must be at least 1, got %d", req.Passes)}
	}
	if req.BlockSize <= 0 {
		return Outcome{Status: StatusFailed}, &ConfigError{Reason: fmt.Sprintf("block size must be positive, got %d", req.BlockSize)}
	}

	release, err := d.claims.acquire(req.Device)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	defer release()

	if _, err := d.begin(ctx, "erase", req.Device, req.Force); err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	start := time.Now()
	out := Outcome{}
	size, err := d.targetSize(req.Device)
	if err != nil {
		return d.finish(start, out, fmt.Errorf("size target: %w", err))
	}

	for pass := 1; pass <= req.Passes; pass++ {
		d.log.Info().Str("device", req.Device).Int("pass", pass).Int("of", req.Passes).
			Bool("random", req.Random).Msg("starting erase pass")
		res, werr := d.wipe(ctx, rawcopy.WipeOptions{
			DestPath:  req.Device,
			Size:      size,
			BlockSize: req.BlockSize,
			Random:    req.Random,
			Progress: func(done, total int64) {
				d.publish(Event{Phase: "erase", BytesCompleted: done, BytesTotal: total, Pass: pass, PassCount: req.Passes})
			},
		})
		out.BytesProcessed += res.BytesWritten
		if werr != nil {
			if isCancellation(werr) {
				return d.finish(start, out, werr)
			}
			return d.finish(start, out, &RuntimeError{
				Op: "erase", Pass: pass, BytesProcessed: out.BytesProcessed, Err: werr,
			})
		}
		out.Passes = pass
	}
	return d.finish(start, out, nil)
}

// ScanRequest runs a destructive write-and-verify surface scan over the
// whole device, reporting the blocks that failed.
type ScanRequest struct {
	Device    string
	BlockSize int64 // 0 leaves the tool's default
	Force     bool
}

func (d *Dispatcher) Scan(ctx context.Context, req ScanRequest) (Outcome, error) {
	if req.BlockSize < 0 {
		return Outcome{Status: StatusFailed}, &ConfigError{Reason: fmt.Sprintf("block size must not be negative, got %d", req.BlockSize)}
	}

	release, err := d.claims.acquire(req.Device)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	defer release()

	if _, err := d.begin(ctx, "scan", req.Device, req.Force); err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	start := time.Now()
	args := []string{"-wsv"}
	if req.BlockSize > 0 {
		args = append(args, "-b", strconv.FormatInt(req.BlockSize, 10))
	}
	args = append(args, req.Device)

	d.publish(Event{Phase: "badblocks"})
	d.log.Info().Str("device", req.Device).Msg("starting surface scan")
	res, err := d.run(ctx, scanTimeout, "badblocks", args...)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return d.finish(start, Outcome{}, cerr)
		}
		return d.finish(start, Outcome{}, &RuntimeError{
			Op:       "badblocks",
			ExitCode: res.Code,
			Stderr:   strings.TrimSpace(string(res.Stderr)),
			Err:      err,
		})
	}

	out := Outcome{ErrorCount: countBadBlocks(res.Stdout)}
	if out.ErrorCount > 0 {
		d.log.Warn().Str("device", req.Device).Int64("bad_blocks", out.ErrorCount).Msg("surface scan found bad blocks")
	}
	return d.finish(start, out, nil)
}

// badblocks prints one failing block number per stdout line.
func countBadBlocks(stdout []byte) int64 {
	var n int64
	for _, line := range strings.Split(string(stdout), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// ImageRequest streams a device (or file) into an image, or verifies it when
// the destination is discarded.
type ImageRequest struct {
	Source     string
	Dest       string
	BlockSize  int64
	BlockCount int64
	Hashes     []string
	Resilient  bool
	VerifyOnly bool
	ReportDir  string
	Force      bool
}

func (d *Dispatcher) Image(ctx context.Context, req ImageRequest) (Outcome, error) {
	if req.BlockSize <= 0 {
		return Outcome{Status: StatusFailed}, &ConfigError{Reason: fmt.Sprintf("block size must be positive, got %d", req.BlockSize)}
	}
	if req.BlockCount < 0 {
		return Outcome{Status: StatusFailed}, &ConfigError{Reason: fmt.Sprintf("block count must not be negative, got %d", req.BlockCount)}
	}

	dest := req.Dest
	if req.VerifyOnly {
		dest = ""
	}

	claimPaths := []string{req.Source}
	if dest != "" {
		claimPaths = append(claimPaths, dest)
	}
	release, err := d.claims.acquire(claimPaths...)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	defer release()

	// Reading the source is non-destructive; only a device-node destination
	// goes through the safety gate.
	if isDeviceNode(dest) {
		if _, err := d.begin(ctx, "image", dest, req.Force); err != nil {
			return Outcome{Status: StatusFailed}, err
		}
	}

	start := time.Now()
	d.log.Info().Str("source", req.Source).Str("dest", dest).
		Bool("verify_only", req.VerifyOnly).Msg("starting image copy")
	res, cerr := d.copyImage(ctx, rawcopy.Options{
		SourcePath: req.Source,
		DestPath:   dest,
		BlockSize:  req.BlockSize,
		BlockCount: req.BlockCount,
		Hashes:     req.Hashes,
		Resilient:  req.Resilient,
		Progress: func(done, total int64) {
			d.publish(Event{Phase: "image", BytesCompleted: done, BytesTotal: total})
		},
	})
	out := Outcome{
		BytesProcessed: res.BytesWritten,
		ErrorCount:     res.ErrorBlocks,
		Digests:        res.Digests,
	}
	if cerr != nil {
		return d.finish(start, out, cerr)
	}

	if req.ReportDir != "" {
		path, rerr := d.persistReport(req.ReportDir, report.New(req.Source, req.Dest, res))
		if rerr != nil {
			return d.finish(start, out, fmt.Errorf("write report: %w", rerr))
		}
		out.ReportPath = path
		d.log.Info().Str("report", path).Msg("report written")
	}
	return d.finish(start, out, nil)
}

// begin logs the Pending -> Authorizing transition and runs the safety gate
// against a fresh inventory snapshot.
func (d *Dispatcher) begin(ctx context.Context, op, device string, force bool) (safety.Result, error) {
	d.log.Debug().Str("op", op).Str("device", device).Str("status", string(StatusAuthorizing)).Msg("authorizing")
	auth, err := d.authorize(ctx, device, force)
	if err != nil {
		return safety.Result{}, err
	}
	for _, w := range auth.Warnings {
		d.log.Warn().Str("device", device).Msg(w)
	}
	d.log.Debug().Str("op", op).Str("device", device).Str("status", string(StatusRunning)).Msg("authorized")
	return auth, nil
}

func (d *Dispatcher) runStep(ctx context.Context, argv []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.publish(Event{Phase: argv[0]})
	d.log.Debug().Strs("argv", argv).Msg("exec")
	res, err := d.run(ctx, d.cmdTimeout, argv[0], argv[1:]...)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return &RuntimeError{
			Op:       argv[0],
			ExitCode: res.Code,
			Stderr:   strings.TrimSpace(string(res.Stderr)),
			Err:      err,
		}
	}
	return nil
}

// waitForPartition polls until the kernel has surfaced the new partition
// node after partprobe.
func (d *Dispatcher) waitForPartition(ctx context.Context, path string) error {
	deadline := time.Now().Add(settleTimeout)
	for {
		if _, err := d.stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return &RuntimeError{Op: "settle", Err: fmt.Errorf("partition %s did not appear within %s", path, settleTimeout)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settlePoll):
		}
	}
}

func (d *Dispatcher) finish(start time.Time, out Outcome, err error) (Outcome, error) {
	out.Duration = time.Since(start)
	switch {
	case err == nil:
		out.Status = StatusCompleted
	case isCancellation(err):
		out.Status = StatusAborted
	default:
		out.Status = StatusFailed
	}
	return out, err
}

func (d *Dispatcher) publish(ev Event) {
	if d.progress != nil {
		d.progress.publish(ev)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isDeviceNode(p string) bool {
	return strings.HasPrefix(p, "/dev/")
}

// PartitionPath returns the node the kernel assigns to the first partition
// of device. Disks whose name ends in a digit (nvme0n1, mmcblk0) get a "p"
// separator.
func PartitionPath(device string) string {
	base := path.Base(device)
	if base != "" && base[len(base)-1] >= '0' && base[len(base)-1] <= '9' {
		return device + "p1"
	}
	return device + "1"
}
