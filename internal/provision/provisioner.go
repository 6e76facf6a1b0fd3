package provision

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ragchat/internal/common/fsutil"
	"ragchat/internal/events"
	"ragchat/internal/manifest"
	"ragchat/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultChunkSize         = 8 << 20
	defaultProgressThreshold = 512 << 10
)

// Config holds Provisioner tunables.
type Config struct {
	// StoreDir is the root of the <name>/<version>/ layout.
	StoreDir string
	// ChunkSize is the transfer unit in bytes; cancellation is observed between chunks.
	ChunkSize int
	// ProgressThreshold is the number of new bytes between progress calls.
	ProgressThreshold int64
	Logger            *zerolog.Logger
	Publisher         events.Publisher
}

// State is the transient view of one provisioning run.
type State struct {
	DestPath    string
	PartialPath string
	BytesCopied int64
	TotalBytes  int64
	Resumed     bool
}

// Result is the outcome of EnsureReady. Cancelled is not an error: the
// returned error is nil and Reason says why nothing is ready.
type Result struct {
	Ready       bool
	Cancelled   bool
	Resumed     bool
	Path        string
	ContextHint *int
	Reason      string
	// BytesCopied counts bytes read from the source in this run only.
	BytesCopied int64
	Duration    time.Duration
}

// Provisioner guarantees a verified local artifact for a descriptor.
type Provisioner struct {
	src    Source
	layout Layout
	chunk  int
	thresh int64
	log    zerolog.Logger
	pub    events.Publisher

	// mu serializes runs; the partial/final pair has a single writer.
	mu sync.Mutex
}

// New constructs a Provisioner reading from src.
func New(src Source, cfg Config) *Provisioner {
	p := &Provisioner{
		src:    src,
		layout: Layout{Root: cfg.StoreDir},
		chunk:  cfg.ChunkSize,
		thresh: cfg.ProgressThreshold,
		log:    zerolog.Nop(),
		pub:    events.OrNop(cfg.Publisher),
	}
	if p.chunk <= 0 {
		p.chunk = defaultChunkSize
	}
	if p.thresh <= 0 {
		p.thresh = defaultProgressThreshold
	}
	if cfg.Logger != nil {
		p.log = cfg.Logger.With().Str("component", "provision").Logger()
	}
	return p
}

// Layout exposes the on-disk layout used by this provisioner.
func (p *Provisioner) Layout() Layout { return p.layout }

// EnsureFromManifest loads the manifest at path, picks the named model (first
// when empty) and provisions it. Manifest problems are reported like any
// other terminal failure.
func (p *Provisioner) EnsureFromManifest(ctx context.Context, path, name string, sink ProgressFunc) (types.ModelDescriptor, Result, error) {
	mf, err := manifest.Load(path)
	if err != nil {
		provisionRunsTotal.WithLabelValues(outcomeManifest).Inc()
		return types.ModelDescriptor{}, Result{Reason: manifestReason(err)}, err
	}
	d, err := mf.Select(name)
	if err != nil {
		provisionRunsTotal.WithLabelValues(outcomeManifest).Inc()
		return types.ModelDescriptor{}, Result{Reason: manifestReason(err)}, err
	}
	res, err := p.EnsureReady(ctx, d, sink)
	return d, res, err
}

func manifestReason(err error) string {
	if errors.Is(err, manifest.ErrEmpty) {
		return "manifest is empty"
	}
	return err.Error()
}

// EnsureReady makes sure the artifact described by d exists, verified, at
// its final path. ctx is the cancel token; it is observed between chunks.
func (p *Provisioner) EnsureReady(ctx context.Context, d types.ModelDescriptor, sink ProgressFunc) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	key := d.Key()
	st := &State{
		DestPath:    p.layout.FinalPath(d),
		PartialPath: p.layout.PartPath(d),
		TotalBytes:  d.SizeBytes,
	}
	log := p.log.With().Str("model", key).Logger()
	log.Info().Str("dest", st.DestPath).Int64("size", d.SizeBytes).Msg("provision start")
	p.pub.Publish(events.Event{Name: "provision_start", Model: key, Fields: map[string]any{"size": d.SizeBytes}})

	res, err := p.ensure(ctx, d, st, sink, log)
	res.Duration = time.Since(start)
	res.Resumed = st.Resumed
	provisionDuration.Observe(res.Duration.Seconds())
	switch {
	case err != nil && IsIntegrity(err):
		provisionRunsTotal.WithLabelValues(outcomeIntegrity).Inc()
	case err != nil:
		provisionRunsTotal.WithLabelValues(outcomeIO).Inc()
		log.Error().Err(err).Dur("dur", res.Duration).Msg("provision failed")
	case res.Cancelled:
		provisionRunsTotal.WithLabelValues(outcomeCancelled).Inc()
	}
	return res, err
}

func (p *Provisioner) ensure(ctx context.Context, d types.ModelDescriptor, st *State, sink ProgressFunc, log zerolog.Logger) (Result, error) {
	key := d.Key()
	dir := p.layout.Dir(d)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Reason: err.Error()}, ioErr("create dir", dir, err)
	}

	// Fast path: checksum decides, never mtime or size.
	if _, ok := fsutil.FileSize(st.DestPath); ok {
		sum, err := SHA256File(st.DestPath)
		if err != nil {
			return Result{Reason: err.Error()}, ioErr("hash", st.DestPath, err)
		}
		if digestEqual(sum, d.SHA256) {
			p.ensureStatus(d, st.DestPath, log)
			provisionRunsTotal.WithLabelValues(outcomeFastPath).Inc()
			log.Info().Msg("provision fastpath: artifact already verified")
			p.pub.Publish(events.Event{Name: "provision_fastpath", Model: key, Fields: map[string]any{}})
			return Result{Ready: true, Path: st.DestPath, ContextHint: d.ContextHint, Reason: "already present"}, nil
		}
		log.Warn().Str("actual", sum).Msg("existing artifact checksum mismatch, removing")
		if err := fsutil.RemoveIfExists(st.DestPath); err != nil {
			return Result{Reason: err.Error()}, ioErr("remove stale artifact", st.DestPath, err)
		}
		_ = fsutil.RemoveIfExists(p.layout.StatusPath(d))
	}

	copied, cancelled, err := p.transfer(ctx, d, st, sink, log)
	if err != nil {
		return Result{Reason: err.Error(), BytesCopied: copied}, err
	}
	if cancelled {
		if err := fsutil.RemoveIfExists(st.PartialPath); err != nil {
			log.Warn().Err(err).Msg("remove partial after cancel")
		}
		log.Warn().Int64("copied", st.BytesCopied).Msg("provision cancelled, partial removed")
		p.pub.Publish(events.Event{Name: "provision_cancelled", Model: key, Fields: map[string]any{"copied": st.BytesCopied}})
		return Result{Cancelled: true, Reason: "cancelled by user", BytesCopied: copied}, nil
	}

	hashStart := time.Now()
	sum, err := SHA256File(st.PartialPath)
	if err != nil {
		return Result{Reason: err.Error(), BytesCopied: copied}, ioErr("hash", st.PartialPath, err)
	}
	log.Debug().Dur("dur", time.Since(hashStart)).Msg("partial checksum computed")
	if !digestEqual(sum, d.SHA256) {
		_ = fsutil.RemoveIfExists(st.PartialPath)
		ierr := &IntegrityError{Path: st.PartialPath, Expected: d.SHA256, Actual: sum}
		log.Error().Str("expected", d.SHA256).Str("actual", sum).Msg("checksum mismatch, partial removed")
		p.pub.Publish(events.Event{Name: "provision_integrity_fail", Model: key, Fields: map[string]any{"actual": sum}})
		return Result{Reason: "checksum mismatch: " + sum, BytesCopied: copied}, ierr
	}

	if err := os.Rename(st.PartialPath, st.DestPath); err != nil {
		return Result{Reason: err.Error(), BytesCopied: copied}, ioErr("rename", st.PartialPath, err)
	}
	if err := fsutil.SyncDir(p.layout.Dir(d)); err != nil {
		log.Warn().Err(err).Msg("fsync store dir")
	}
	p.ensureStatus(d, st.DestPath, log)

	log.Info().Str("path", st.DestPath).Bool("resumed", st.Resumed).Int64("copied", copied).Msg("provision ready")
	p.pub.Publish(events.Event{Name: "provision_ready", Model: key, Fields: map[string]any{"resumed": st.Resumed, "copied": copied}})
	provisionRunsTotal.WithLabelValues(outcomeReady).Inc()
	return Result{Ready: true, Path: st.DestPath, ContextHint: d.ContextHint, Reason: "copied", BytesCopied: copied}, nil
}

// ensureStatus writes the sidecar. The artifact is already committed at this
// point, so a sidecar failure is logged rather than failing the run.
func (p *Provisioner) ensureStatus(d types.ModelDescriptor, path string, log zerolog.Logger) {
	want := Status{Ready: true, SHA256: d.SHA256, Version: d.Version, Size: d.SizeBytes, Filename: d.Filename}
	if cur, err := ReadStatus(p.layout.StatusPath(d)); err == nil && cur == want {
		return
	}
	if d.SizeBytes == 0 {
		if n, ok := fsutil.FileSize(path); ok {
			want.Size = n
		}
	}
	if err := WriteStatus(p.layout.StatusPath(d), want); err != nil {
		log.Warn().Err(err).Msg("write status sidecar")
	}
}

// transfer copies the remaining bytes into the partial file. It returns the
// number of bytes read from the source in this run.
func (p *Provisioner) transfer(ctx context.Context, d types.ModelDescriptor, st *State, sink ProgressFunc, log zerolog.Logger) (int64, bool, error) {
	key := d.Key()
	total := d.SizeBytes

	offset, _ := fsutil.FileSize(st.PartialPath)
	if total > 0 && offset > total {
		log.Warn().Int64("existing", offset).Int64("total", total).Msg("partial larger than expected size, restarting")
		p.pub.Publish(events.Event{Name: "provision_discard_partial", Model: key, Fields: map[string]any{"existing": offset}})
		if err := fsutil.RemoveIfExists(st.PartialPath); err != nil {
			return 0, false, ioErr("remove partial", st.PartialPath, err)
		}
		offset = 0
	}
	st.Resumed = offset > 0
	st.BytesCopied = offset
	if st.Resumed {
		log.Info().Int64("offset", offset).Msg("resuming transfer")
		p.pub.Publish(events.Event{Name: "provision_resume", Model: key, Fields: map[string]any{"offset": offset}})
	}

	rep := newProgressReporter(sink, total, p.thresh)
	rep.start(st.BytesCopied)
	defer func() { rep.finish(st.BytesCopied) }()

	if ctx.Err() != nil {
		return 0, true, nil
	}
	// A complete partial left by a run that died before verification needs no source.
	if total > 0 && offset == total {
		return 0, false, nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(st.PartialPath, flags, 0o644)
	if err != nil {
		return 0, false, ioErr("open partial", st.PartialPath, err)
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, false, ioErr("seek partial", st.PartialPath, err)
	}

	rc, err := p.src.Open(ctx, d.Filename, offset)
	if err != nil {
		if ctx.Err() != nil {
			return 0, true, nil
		}
		return 0, false, ioErr("open source", d.Filename, err)
	}
	defer rc.Close()
	var r io.Reader = rc
	if total > 0 {
		r = io.LimitReader(rc, total-offset)
	}

	var (
		copied    int64
		buf       = make([]byte, p.chunk)
		startedAt = time.Now()
		speedLog  = rate.Sometimes{Interval: time.Second}
	)
	for {
		if ctx.Err() != nil {
			return copied, true, nil
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return copied, false, ioErr("write partial", st.PartialPath, werr)
			}
			copied += int64(n)
			st.BytesCopied += int64(n)
			provisionBytesTotal.Add(float64(n))
			rep.advance(st.BytesCopied)
			speedLog.Do(func() {
				secs := time.Since(startedAt).Seconds()
				if secs < 0.001 {
					secs = 0.001
				}
				log.Debug().Int64("copied", st.BytesCopied).Int64("total", total).
					Float64("avg_mib_s", float64(copied)/(1<<20)/secs).Msg("transfer progress")
			})
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil || IsCancelled(rerr) {
				return copied, true, nil
			}
			return copied, false, ioErr("read source", d.Filename, rerr)
		}
	}

	if err := f.Sync(); err != nil {
		return copied, false, ioErr("fsync partial", st.PartialPath, err)
	}
	if err := f.Close(); err != nil {
		return copied, false, ioErr("close partial", st.PartialPath, err)
	}
	dur := time.Since(startedAt)
	log.Info().Int64("copied", copied).Int64("bytes", st.BytesCopied).Bool("resumed", st.Resumed).
		Dur("dur", dur).Msg("transfer finished")
	return copied, false, nil
}
