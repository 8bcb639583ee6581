package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrPartFilled is returned by File.Next when the part at the current index
// was completed in a previous session. Callers should continue to the next
// part.
var ErrPartFilled = errors.New("part already filled")

// ErrSourceChanged is returned when stored metadata does not match the
// metadata of the current run.
var ErrSourceChanged = errors.New("dataset: metadata changed since last attempt")

// Manifest describes a completed dataset.
type Manifest struct {
	RunID       string            `json:"run_id"`
	PartsPrefix string            `json:"parts_prefix"`
	TotalUnits  int64             `json:"total_units"`
	TotalSize   int64             `json:"total_size"`
	Parts       []PartInfo        `json:"parts"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// PartInfo describes a single part in the manifest. The index is implicit
// from the array position. A part whose segment failed has no Object.
type PartInfo struct {
	Object   string `json:"object,omitempty"`
	Segment  string `json:"segment,omitempty"`
	Units    int64  `json:"units"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PartStatus represents the state of a part during a run.
type PartStatus string

const (
	PartPending    PartStatus = "pending"
	PartInProgress PartStatus = "in_progress"
	PartCompleted  PartStatus = "completed"
	// PartFailed means every attempt failed. Failed parts are retried on
	// resume.
	PartFailed PartStatus = "failed"
)

// PartState tracks a single part during a run.
type PartState struct {
	Status PartStatus `json:"status"`
	PartInfo
}

// state tracks run progress for resume support.
type state struct {
	RunID       string            `json:"run_id"`
	PartsPrefix string            `json:"parts_prefix"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Parts       []PartState       `json:"parts"`
	StartedAt   time.Time         `json:"started_at"`
}

// Options configures dataset operations.
type Options struct {
	Ext             string
	Total           int
	Metadata        map[string]string
	VerifyChecksum  bool
	ComputeChecksum bool
	StateInterval   int
}

// Option is a functional option for configuring dataset operations.
type Option func(*Options)

// WithExt sets the object name suffix of parts, e.g. ".jsonl.zst".
func WithExt(ext string) Option {
	return func(o *Options) {
		o.Ext = ext
	}
}

// WithTotal sets the number of parts. When set, File.Next returns io.EOF
// after all parts have been accounted for.
func WithTotal(n int) Option {
	return func(o *Options) {
		o.Total = n
	}
}

// WithMetadata sets caller-defined metadata stored in the state and manifest.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}

// WithVerifyChecksum enables checksum verification during reads.
// Parts without a stored checksum are not verified.
func WithVerifyChecksum(verify bool) Option {
	return func(o *Options) {
		o.VerifyChecksum = verify
	}
}

// WithChecksum enables or disables SHA-256 computation during writes.
// Default is true.
func WithChecksum(compute bool) Option {
	return func(o *Options) {
		o.ComputeChecksum = compute
	}
}

// WithStateInterval sets how often the caller intends to persist state,
// in completed parts. See File.ShouldSaveState.
func WithStateInterval(n int) Option {
	return func(o *Options) {
		o.StateInterval = n
	}
}

// File is a dataset being written.
type File struct {
	bucket      *blob.Bucket
	dest        string
	opts        Options
	partsPrefix string

	mu             sync.Mutex
	state          *state
	currentIndex   int
	completedCount int
	sinceSave      int
	resumed        bool
	closed         bool
}

// Write creates or resumes a dataset. If state exists from a previous
// incomplete run it is loaded for resume.
func Write(ctx context.Context, bucket *blob.Bucket, dest string, options ...Option) (*File, error) {
	opts := Options{
		Ext:             ".jsonl.zst",
		StateInterval:   10,
		ComputeChecksum: true,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if dest == "" {
		return nil, errors.New("dataset: empty destination")
	}

	f := &File{
		bucket:      bucket,
		dest:        dest,
		opts:        opts,
		partsPrefix: dest + ".parts/",
	}

	if err := f.loadState(ctx); err != nil {
		return nil, fmt.Errorf("dataset: load state: %w", err)
	}
	return f, nil
}

func (f *File) freshState() *state {
	return &state{
		RunID:       uuid.NewString(),
		PartsPrefix: f.partsPrefix,
		Metadata:    f.opts.Metadata,
		Parts:       []PartState{},
		StartedAt:   time.Now(),
	}
}

// loadState attempts to load existing state for resume.
func (f *File) loadState(ctx context.Context) error {
	data, err := f.bucket.ReadAll(ctx, f.partsPrefix+"state.json")
	if err != nil {
		if isNotExist(err) {
			f.state = f.freshState()
			return nil
		}
		return err
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	f.state = &s
	f.partsPrefix = s.PartsPrefix
	f.resumed = true

	// Interrupted and failed parts are retried.
	for i := range f.state.Parts {
		switch f.state.Parts[i].Status {
		case PartCompleted:
			f.completedCount++
		case PartInProgress, PartFailed:
			f.state.Parts[i].Status = PartPending
			f.state.Parts[i].Error = ""
		}
	}
	return nil
}

// CheckMetadata compares the stored metadata with the options' metadata for
// the given keys and returns ErrSourceChanged on the first difference.
func (f *File) CheckMetadata(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		stored, current := f.state.Metadata[k], f.opts.Metadata[k]
		if stored != current {
			return fmt.Errorf("%w: %s was %q, now %q", ErrSourceChanged, k, stored, current)
		}
	}
	return nil
}

// SaveState persists the current state for resume. Thread-safe.
func (f *File) SaveState(ctx context.Context) error {
	f.mu.Lock()
	data, err := json.MarshalIndent(f.state, "", "  ")
	f.sinceSave = 0
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.bucket.WriteAll(ctx, f.partsPrefix+"state.json", data, nil)
}

// ShouldSaveState reports whether StateInterval parts have completed since
// the last SaveState.
func (f *File) ShouldSaveState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts.StateInterval > 0 && f.sinceSave >= f.opts.StateInterval
}

// Metadata returns the metadata stored in the current state.
func (f *File) Metadata() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return nil
	}
	return f.state.Metadata
}

// Resumed reports whether state from an earlier run was loaded.
func (f *File) Resumed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumed
}

// RunID returns the identifier of the run, stable across resumes.
func (f *File) RunID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.RunID
}

// Reset discards existing state and parts and starts a fresh run.
func (f *File) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, part := range f.state.Parts {
		if part.Object != "" {
			path := f.partsPrefix + part.Object
			if err := f.bucket.Delete(ctx, path); err != nil && !isNotExist(err) {
				return fmt.Errorf("delete part %s: %w", path, err)
			}
		}
	}

	statePath := f.partsPrefix + "state.json"
	if err := f.bucket.Delete(ctx, statePath); err != nil && !isNotExist(err) {
		return fmt.Errorf("delete state: %w", err)
	}

	f.state = f.freshState()
	f.resumed = false
	f.currentIndex = 0
	f.completedCount = 0
	f.sinceSave = 0
	return nil
}

// Next returns the next part to be written.
// Returns ErrPartFilled if the part was completed earlier (resume case).
// Returns io.EOF when all parts have been accounted for (requires WithTotal).
func (f *File) Next(ctx context.Context) (*Part, error) {
	// Don't mark parts in progress during shutdown.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, errors.New("dataset: file is closed")
	}
	if f.opts.Total > 0 && f.currentIndex >= f.opts.Total {
		return nil, io.EOF
	}

	idx := f.currentIndex
	f.currentIndex++

	part := &Part{
		file:            f,
		index:           idx,
		object:          fmt.Sprintf("part-%06d%s", idx, f.opts.Ext),
		computeChecksum: f.opts.ComputeChecksum,
	}

	for len(f.state.Parts) <= idx {
		f.state.Parts = append(f.state.Parts, PartState{Status: PartPending})
	}
	ps := &f.state.Parts[idx]
	if ps.Status == PartCompleted {
		info := ps.PartInfo
		part.info = &info
		return part, ErrPartFilled
	}
	ps.Status = PartInProgress
	return part, nil
}

// Complete writes the manifest and removes the state file.
func (f *File) Complete(ctx context.Context) (*Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, errors.New("dataset: file is already closed")
	}
	f.closed = true

	manifest := &Manifest{
		RunID:       f.state.RunID,
		PartsPrefix: f.partsPrefix,
		Metadata:    f.state.Metadata,
		StartedAt:   f.state.StartedAt,
		CompletedAt: time.Now(),
		Parts:       make([]PartInfo, len(f.state.Parts)),
	}
	for i, ps := range f.state.Parts {
		info := ps.PartInfo
		if ps.Status != PartCompleted {
			info = PartInfo{Segment: ps.Segment, Error: ps.Error}
			if info.Error == "" {
				info.Error = "not completed"
			}
		}
		manifest.Parts[i] = info
		manifest.TotalUnits += info.Units
		manifest.TotalSize += info.Size
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := f.bucket.WriteAll(ctx, f.dest+".manifest.json", data, nil); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	// State outlives the manifest while parts are missing, so a later run
	// retries only those.
	statePath := f.partsPrefix + "state.json"
	if len(manifest.Parts) > 0 && manifest.Incomplete() > 0 {
		data, err := json.MarshalIndent(f.state, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal state: %w", err)
		}
		if err := f.bucket.WriteAll(ctx, statePath, data, nil); err != nil {
			return nil, fmt.Errorf("write state: %w", err)
		}
		return manifest, nil
	}
	if err := f.bucket.Delete(ctx, statePath); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("delete state: %w", err)
	}
	return manifest, nil
}

// Incomplete returns the number of parts without an object.
func (m *Manifest) Incomplete() int {
	n := 0
	for _, p := range m.Parts {
		if p.Object == "" {
			n++
		}
	}
	return n
}

// CompletedCount returns the number of completed parts.
func (f *File) CompletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completedCount
}

// CompletedUnits returns the number of units in completed parts.
func (f *File) CompletedUnits() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, ps := range f.state.Parts {
		if ps.Status == PartCompleted {
			total += ps.Units
		}
	}
	return total
}

// Part is a single part being written. It is an io.Writer of encoded
// units; SetSegment and AddUnits describe its content for the manifest.
type Part struct {
	file            *File
	index           int
	object          string
	computeChecksum bool
	info            *PartInfo

	mu           sync.Mutex
	writer       *blob.Writer
	writerCancel context.CancelFunc
	hash         hash.Hash
	size         int64
	units        int64
	segment      string
	closed       bool
}

// Index returns the part index (0, 1, 2, ...).
func (p *Part) Index() int {
	return p.index
}

// Info returns the stored description of a part that was already filled.
func (p *Part) Info() *PartInfo {
	return p.info
}

// SetSegment records the source segment of the part.
func (p *Part) SetSegment(segment string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segment = segment
}

// AddUnits records n more units written to the part.
func (p *Part) AddUnits(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.units += n
}

func (p *Part) path() string {
	return p.file.partsPrefix + p.object
}

// Write writes encoded data to the part.
func (p *Part) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("dataset: part is closed")
	}
	if p.writer == nil {
		if err := p.open(); err != nil {
			return 0, err
		}
	}

	n, err := p.writer.Write(b)
	if err != nil {
		return n, err
	}
	if p.hash != nil {
		p.hash.Write(b[:n])
	}
	p.size += int64(n)
	return n, nil
}

// open starts the blob upload. Must be called with p.mu held.
func (p *Part) open() error {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := p.file.bucket.NewWriter(ctx, p.path(), nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create part writer: %w", err)
	}
	p.writer = w
	p.writerCancel = cancel
	if p.computeChecksum {
		p.hash = sha256.New()
	}
	return nil
}

// discard cancels the upload and deletes any partial object. Must be called
// with p.mu held.
func (p *Part) discard() {
	if p.writer != nil {
		p.writerCancel()
		p.writer.Close()
		// Resumable uploads may have committed partial buffers.
		p.file.bucket.Delete(context.Background(), p.path())
	}
	p.writer = nil
	p.writerCancel = nil
	p.hash = nil
	p.size = 0
	p.units = 0
}

// Truncate discards everything written so far. The part stays open, so a
// failed attempt can be retried into the same part.
func (p *Part) Truncate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("dataset: part is closed")
	}
	p.discard()
	return nil
}

// Abort discards the part and marks it pending so it is retried by a
// later run. Safe to call multiple times or after Close.
func (p *Part) Abort() {
	p.finish(PartPending, "")
}

// Fail discards the part and records that its segment failed.
func (p *Part) Fail(err error) {
	msg := "failed"
	if err != nil {
		msg = err.Error()
	}
	p.finish(PartFailed, msg)
}

func (p *Part) finish(status PartStatus, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.discard()

	p.file.mu.Lock()
	ps := &p.file.state.Parts[p.index]
	ps.Status = status
	ps.Segment = p.segment
	ps.Error = msg
	p.file.mu.Unlock()
}

// Close commits the part and marks it completed in memory. A part with no
// writes is committed as an empty object. Close does not persist state;
// call File.SaveState from the main goroutine.
func (p *Part) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.info != nil {
		return nil
	}

	if p.writer == nil {
		if err := p.file.bucket.WriteAll(context.Background(), p.path(), nil, nil); err != nil {
			return fmt.Errorf("write empty part: %w", err)
		}
		if p.computeChecksum {
			p.hash = sha256.New()
		}
	} else {
		err := p.writer.Close()
		p.writerCancel()
		if err != nil {
			return fmt.Errorf("close part writer: %w", err)
		}
	}

	checksum := ""
	if p.hash != nil {
		checksum = hex.EncodeToString(p.hash.Sum(nil))
	}

	p.file.mu.Lock()
	p.file.state.Parts[p.index] = PartState{
		Status: PartCompleted,
		PartInfo: PartInfo{
			Object:   p.object,
			Segment:  p.segment,
			Units:    p.units,
			Size:     p.size,
			Checksum: checksum,
		},
	}
	p.file.completedCount++
	p.file.sinceSave++
	p.file.mu.Unlock()

	return nil
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

func readManifest(ctx context.Context, bucket *blob.Bucket, dest string) (*Manifest, error) {
	data, err := bucket.ReadAll(ctx, dest+".manifest.json")
	if err != nil {
		return nil, fmt.Errorf("dataset: read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("dataset: unmarshal manifest: %w", err)
	}
	return &manifest, nil
}
