package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

// ============================================================================
// Snapshot repository
// ============================================================================

type artifactID struct {
	versionID int64
	format    domain.ExportFormat
}

// FakeSnapshotRepo is an in-memory SnapshotRepository. ListActiveAnnotations
// returns inactive rows too so callers have to filter.
type FakeSnapshotRepo struct {
	mu            sync.Mutex
	versions      map[int64]*domain.Version
	images        map[int64][]domain.VersionImage
	annotations   map[int64][]domain.Annotation
	augmentations map[int64][]domain.Augmentation
	artifacts     map[artifactID]*domain.Artifact
	calls         map[string]int
	failures      map[string]error
}

var _ ports.SnapshotRepository = (*FakeSnapshotRepo)(nil)

func NewFakeSnapshotRepo() *FakeSnapshotRepo {
	return &FakeSnapshotRepo{
		versions:      make(map[int64]*domain.Version),
		images:        make(map[int64][]domain.VersionImage),
		annotations:   make(map[int64][]domain.Annotation),
		augmentations: make(map[int64][]domain.Augmentation),
		artifacts:     make(map[artifactID]*domain.Artifact),
		calls:         make(map[string]int),
		failures:      make(map[string]error),
	}
}

func (r *FakeSnapshotRepo) AddVersion(v domain.Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[v.ID] = &v
}

// AddImage adds a version image. Images are kept ordered by id.
func (r *FakeSnapshotRepo) AddImage(versionID int64, img domain.VersionImage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imgs := append(r.images[versionID], img)
	sort.Slice(imgs, func(i, j int) bool { return imgs[i].ID < imgs[j].ID })
	r.images[versionID] = imgs
}

func (r *FakeSnapshotRepo) AddAnnotation(a domain.Annotation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.annotations[a.ProjectImageID] = append(r.annotations[a.ProjectImageID], a)
}

func (r *FakeSnapshotRepo) AddAugmentation(a domain.Augmentation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.augmentations[a.VersionImageID] = append(r.augmentations[a.VersionImageID], a)
}

// FailOn makes every later call of method return err.
func (r *FakeSnapshotRepo) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[method] = err
}

func (r *FakeSnapshotRepo) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *FakeSnapshotRepo) call(method string) error {
	r.calls[method]++
	return r.failures[method]
}

func (r *FakeSnapshotRepo) GetVersion(_ context.Context, versionID int64) (*domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetVersion"); err != nil {
		return nil, err
	}
	v, ok := r.versions[versionID]
	if !ok {
		return nil, domain.ErrVersionNotFound
	}
	out := *v
	return &out, nil
}

func (r *FakeSnapshotRepo) GetVersionByNumber(_ context.Context, projectName string, versionNumber int) (*domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetVersionByNumber"); err != nil {
		return nil, err
	}
	for _, v := range r.versions {
		if v.ProjectName == projectName && v.VersionNumber == versionNumber {
			out := *v
			return &out, nil
		}
	}
	return nil, domain.ErrVersionNotFound
}

func (r *FakeSnapshotRepo) CountVersionImages(_ context.Context, versionID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("CountVersionImages"); err != nil {
		return 0, err
	}
	return len(r.images[versionID]), nil
}

func (r *FakeSnapshotRepo) ListVersionImages(_ context.Context, versionID int64, afterID int64, limit int) ([]domain.VersionImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ListVersionImages"); err != nil {
		return nil, err
	}
	var out []domain.VersionImage
	for _, img := range r.images[versionID] {
		if img.ID <= afterID {
			continue
		}
		out = append(out, img)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *FakeSnapshotRepo) ListActiveAnnotations(_ context.Context, projectImageIDs []int64) (map[int64][]domain.Annotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ListActiveAnnotations"); err != nil {
		return nil, err
	}
	out := make(map[int64][]domain.Annotation, len(projectImageIDs))
	for _, id := range projectImageIDs {
		if anns := r.annotations[id]; len(anns) > 0 {
			out[id] = append([]domain.Annotation(nil), anns...)
		}
	}
	return out, nil
}

func (r *FakeSnapshotRepo) ListAugmentations(_ context.Context, versionImageIDs []int64) (map[int64][]domain.Augmentation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("ListAugmentations"); err != nil {
		return nil, err
	}
	out := make(map[int64][]domain.Augmentation, len(versionImageIDs))
	for _, id := range versionImageIDs {
		if augs := r.augmentations[id]; len(augs) > 0 {
			out[id] = append([]domain.Augmentation(nil), augs...)
		}
	}
	return out, nil
}

func (r *FakeSnapshotRepo) GetArtifact(_ context.Context, versionID int64, format domain.ExportFormat) (*domain.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetArtifact"); err != nil {
		return nil, err
	}
	a, ok := r.artifacts[artifactID{versionID, format}]
	if !ok {
		return nil, domain.ErrArtifactNotFound
	}
	out := *a
	return &out, nil
}

func (r *FakeSnapshotRepo) SaveArtifact(_ context.Context, a *domain.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("SaveArtifact"); err != nil {
		return err
	}
	stored := *a
	r.artifacts[artifactID{a.VersionID, a.Format}] = &stored
	return nil
}

func (r *FakeSnapshotRepo) DeleteArtifact(_ context.Context, versionID int64, format domain.ExportFormat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("DeleteArtifact"); err != nil {
		return err
	}
	id := artifactID{versionID, format}
	if _, ok := r.artifacts[id]; !ok {
		return domain.ErrArtifactNotFound
	}
	delete(r.artifacts, id)
	return nil
}

func (r *FakeSnapshotRepo) Ping(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.call("Ping")
}

// ============================================================================
// Blob store
// ============================================================================

// MemBlobStore is an in-memory BlobStore. Uncommitted writes are invisible.
type MemBlobStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	readErrs    map[string]error
	openCount   map[string]int
	writeErr    error
	publicBase  string
	openWriters int
}

var _ ports.BlobStore = (*MemBlobStore)(nil)

func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{
		objects:   make(map[string][]byte),
		readErrs:  make(map[string]error),
		openCount: make(map[string]int),
	}
}

// WithPublicBaseURL makes PublicURL return base + "/" + key.
func (s *MemBlobStore) WithPublicBaseURL(base string) *MemBlobStore {
	s.publicBase = strings.TrimRight(base, "/")
	return s
}

func (s *MemBlobStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
}

func (s *MemBlobStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

func (s *MemBlobStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailReadAfter makes reads of key return err once the first n bytes were read.
func (s *MemBlobStore) FailReadAfter(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErrs[key] = err
}

// FailWrites makes writes to uncommitted blobs return err.
func (s *MemBlobStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *MemBlobStore) OpenCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCount[key]
}

// OpenWriters is the number of writers neither committed nor aborted.
func (s *MemBlobStore) OpenWriters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openWriters
}

func (s *MemBlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemBlobStore) OpenRead(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openCount[key]++
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	var r io.Reader = bytes.NewReader(b)
	if err := s.readErrs[key]; err != nil {
		r = io.MultiReader(r, &errReader{err: err})
	}
	return io.NopCloser(r), nil
}

func (s *MemBlobStore) OpenWrite(_ context.Context, key string) (ports.BlobWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openWriters++
	return &memWriter{store: s, key: key}, nil
}

func (s *MemBlobStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	delete(s.objects, key)
	return nil
}

func (s *MemBlobStore) LocalPath(string) string {
	return ""
}

func (s *MemBlobStore) PublicURL(key string) string {
	if s.publicBase == "" {
		return ""
	}
	return s.publicBase + "/" + key
}

type memWriter struct {
	store *MemBlobStore
	key   string
	buf   bytes.Buffer
	done  bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.store.mu.Lock()
	err := w.store.writeErr
	w.store.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if w.done {
		return 0, errors.New("write after commit")
	}
	return w.buf.Write(p)
}

func (w *memWriter) Commit(context.Context) (int64, error) {
	if w.done {
		return 0, errors.New("already committed")
	}
	w.done = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.openWriters--
	w.store.objects[w.key] = append([]byte(nil), w.buf.Bytes()...)
	return int64(w.buf.Len()), nil
}

func (w *memWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.openWriters--
	return nil
}

type errReader struct {
	err error
}

func (r *errReader) Read([]byte) (int, error) {
	return 0, r.err
}

// ============================================================================
// Progress tracker
// ============================================================================

type ProgressEvent struct {
	TaskID     string
	Percentage int
	Status     string
}

// RecordingTracker is an in-memory ProgressTracker that keeps every update.
type RecordingTracker struct {
	mu     sync.Mutex
	events []ProgressEvent
	err    error
}

var _ ports.ProgressTracker = (*RecordingTracker)(nil)

func NewRecordingTracker() *RecordingTracker {
	return &RecordingTracker{}
}

// FailWith makes Set return err. Updates are still not recorded.
func (t *RecordingTracker) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *RecordingTracker) Set(_ context.Context, taskID string, percentage int, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.events = append(t.events, ProgressEvent{TaskID: taskID, Percentage: percentage, Status: status})
	return nil
}

func (t *RecordingTracker) Get(_ context.Context, taskID string) (*domain.Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.events) - 1; i >= 0; i-- {
		if e := t.events[i]; e.TaskID == taskID {
			p := domain.NewProgress(e.Percentage, e.Status)
			return &p, nil
		}
	}
	return nil, domain.ErrProgressNotFound
}

// Events returns the updates of taskID in order.
func (t *RecordingTracker) Events(taskID string) []ProgressEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ProgressEvent
	for _, e := range t.events {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

// Starts counts the 0% updates of taskID.
func (t *RecordingTracker) Starts(taskID string) int {
	n := 0
	for _, e := range t.Events(taskID) {
		if e.Percentage == 0 {
			n++
		}
	}
	return n
}
