// Package jobstore keeps async job records as YAML files under a cache root.
//
// A job id has the form {slug}/{type}/{timestamp_ms}; individual solution
// runs live one level deeper, {slug}/run_solution/{solution_key}/{timestamp_ms}.
// The record for id is stored at {root}/{id}.yaml.
package jobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/programme-lv/probpipe/api"
	"github.com/puzpuzpuz/xsync/v3"
	"gopkg.in/yaml.v3"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrStatusRegression = errors.New("job status cannot move backwards")
	ErrInvalidJobID     = errors.New("invalid job id")
)

// Observer is told about every record the store writes.
type Observer interface {
	JobUpdated(job api.Job)
}

type Store struct {
	root string
	log  *slog.Logger
	now  func() time.Time

	locks     *xsync.MapOf[string, *sync.Mutex]
	observers []Observer

	tsMu   sync.Mutex
	lastTs int64
}

type Option func(*Store)

func WithLogger(log *slog.Logger) Option { return func(s *Store) { s.log = log } }

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New creates the root directory if needed.
func New(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:  root,
		log:   slog.Default(),
		now:   time.Now,
		locks: xsync.NewMapOf[string, *sync.Mutex](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job store directory: %w", err)
	}
	return s, nil
}

// AddObserver registers o for all subsequent writes. Not safe to call while
// jobs are being written.
func (s *Store) AddObserver(o Observer) { s.observers = append(s.observers, o) }

// SolutionKey encodes a solution path as a single directory name.
func SolutionKey(solutionPath string) string {
	return strings.ReplaceAll(solutionPath, "/", "__")
}

func SolutionPathFromKey(key string) string {
	return strings.ReplaceAll(key, "__", "/")
}

// Create allocates a new pending job for slug.
func (s *Store) Create(slug string, typ api.JobType) (string, error) {
	id := fmt.Sprintf("%s/%s/%d", slug, typ, s.nextTimestamp())
	return id, s.create(id, slug, typ)
}

// CreateIndividual allocates a run_solution job stored under the solution's
// own sub-directory, so its latest run can be found independently.
func (s *Store) CreateIndividual(slug string, solutionPath string) (string, error) {
	id := fmt.Sprintf("%s/%s/%s/%d", slug, api.JobRunSolution, SolutionKey(solutionPath), s.nextTimestamp())
	return id, s.create(id, slug, api.JobRunSolution)
}

func (s *Store) create(id string, slug string, typ api.JobType) error {
	if err := validateID(id); err != nil {
		return err
	}
	now := s.now().UTC()
	job := api.Job{
		ID:        id,
		Slug:      slug,
		Type:      typ,
		Status:    api.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()
	if err := s.write(job); err != nil {
		return err
	}
	s.notify(job)
	return nil
}

// Fields is a partial update. Zero values leave the stored field unchanged.
type Fields struct {
	Status api.JobStatus
	Result any
	Error  *string
}

// Update merges fields into the record and refreshes updated_at. All writes
// for the same id are serialized.
func (s *Store) Update(id string, fields Fields) error {
	if err := validateID(id); err != nil {
		return err
	}
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.read(id)
	if err != nil {
		return err
	}

	if fields.Status != "" && fields.Status != job.Status {
		if job.Status.Terminal() || fields.Status.Rank() < job.Status.Rank() {
			return fmt.Errorf("%w: %s -> %s for %s", ErrStatusRegression, job.Status, fields.Status, id)
		}
		job.Status = fields.Status
	}
	if fields.Result != nil {
		job.Result = fields.Result
	}
	if fields.Error != nil {
		job.Error = fields.Error
	}
	job.UpdatedAt = s.now().UTC()

	if err := s.write(job); err != nil {
		return err
	}
	s.notify(job)
	return nil
}

func (s *Store) MarkRunning(id string) error {
	return s.Update(id, Fields{Status: api.StatusRunning})
}

// Progress stores a partial result without touching the status.
func (s *Store) Progress(id string, result any) error {
	return s.Update(id, Fields{Result: result})
}

func (s *Store) Finish(id string, result any) error {
	return s.Update(id, Fields{Status: api.StatusDone, Result: result})
}

// Fail marks the job failed. A partial result, if given, is kept alongside.
func (s *Store) Fail(id string, msg string, result any) error {
	return s.Update(id, Fields{Status: api.StatusFailed, Error: &msg, Result: result})
}

// Read returns the current record or ErrJobNotFound.
func (s *Store) Read(id string) (api.Job, error) {
	if err := validateID(id); err != nil {
		return api.Job{}, err
	}
	return s.read(id)
}

// Latest returns the newest job id of typ for slug, or "" when there is none.
// An optional subkey selects the individual run group of one solution.
func (s *Store) Latest(slug string, typ api.JobType, subkey ...string) (string, error) {
	parts := append([]string{slug, string(typ)}, subkey...)
	group := filepath.Join(parts...)
	stems, err := s.recordStems(filepath.Join(s.root, group))
	if err != nil {
		return "", err
	}
	if len(stems) == 0 {
		return "", nil
	}
	return filepath.ToSlash(filepath.Join(group, stems[len(stems)-1])), nil
}

// LatestIndividual is Latest for one solution's individual runs.
func (s *Store) LatestIndividual(slug string, solutionPath string) (string, error) {
	return s.Latest(slug, api.JobRunSolution, SolutionKey(solutionPath))
}

// SolutionKeys lists the solution keys that have individual runs.
func (s *Store) SolutionKeys(slug string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, slug, string(api.JobRunSolution)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list individual runs: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}

func (s *Store) lock(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrCompute(id, func() *sync.Mutex { return &sync.Mutex{} })
	return mu
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(id)+".yaml")
}

func (s *Store) read(id string) (api.Job, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return api.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return api.Job{}, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	var job api.Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return api.Job{}, fmt.Errorf("failed to parse job %s: %w", id, err)
	}
	return job, nil
}

// write replaces the record atomically so pollers never see a torn file.
func (s *Store) write(job api.Job) error {
	path := s.path(job.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	data, err := yaml.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".job-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write job %s: %w", job.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write job %s: %w", job.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) notify(job api.Job) {
	for _, o := range s.observers {
		o.JobUpdated(job)
	}
}

// nextTimestamp returns the current time in ms, bumped so that it is
// strictly greater than every value returned before.
func (s *Store) nextTimestamp() int64 {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	ts := s.now().UnixMilli()
	if ts <= s.lastTs {
		ts = s.lastTs + 1
	}
	s.lastTs = ts
	return ts
}

// recordStems lists record names in dir, oldest first.
func (s *Store) recordStems(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var stems []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".yaml" {
			continue
		}
		stems = append(stems, strings.TrimSuffix(name, ".yaml"))
	}
	// ReadDir sorts by name, which is the lexicographic order we want.
	return stems, nil
}

func validateID(id string) error {
	parts := strings.Split(id, "/")
	if len(parts) < 3 || len(parts) > 4 {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `\`) {
			return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
		}
	}
	if _, err := strconv.ParseInt(parts[len(parts)-1], 10, 64); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	return nil
}

// DecodeResult converts the loosely typed result of a record read back from
// disk into out.
func DecodeResult(job api.Job, out any) error {
	if job.Result == nil {
		return nil
	}
	data, err := yaml.Marshal(job.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result of %s: %w", job.ID, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode result of %s: %w", job.ID, err)
	}
	return nil
}
