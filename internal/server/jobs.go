package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/logging"
	"github.com/edoardograci/track-loop-main/internal/pipeline"
)

// Job status constants
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	StatusFailed     JobStatus = "failed"
)

// Job represents a processing job. Handlers only ever see copies.
type Job struct {
	ID         string    `json:"id"`
	Status     JobStatus `json:"status"`
	Stage      string    `json:"stage"`
	Filename   string    `json:"filename"`
	Error      string    `json:"error,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Notes      int       `json:"notes"`
	Rendered   bool      `json:"rendered"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	WorkDir    string `json:"-"`
	InputPath  string `json:"-"`
	OutputPath string `json:"-"`
	MIDIPath   string `json:"-"`
}

// Done reports whether the job reached a terminal state
func (j Job) Done() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// Executor runs one conversion
type Executor interface {
	Execute(ctx context.Context, cfg pipeline.Config) (*pipeline.Result, error)
}

// ExecutorFactory builds an Executor whose progress lines go to w
type ExecutorFactory func(w io.Writer) Executor

// JobManager manages processing jobs
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup

	// ctx is the parent of every job run; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	root     string
	ttl      time.Duration
	template pipeline.Config
	newExec  ExecutorFactory
	log      logrus.FieldLogger
}

// NewJobManager creates a new job manager. Job directories live under
// root (the system temp directory when empty).
func NewJobManager(root string, ttl time.Duration, template pipeline.Config, newExec ExecutorFactory, log logrus.FieldLogger) *JobManager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:     make(map[string]*Job),
		ctx:      ctx,
		cancel:   cancel,
		root:     root,
		ttl:      ttl,
		template: template,
		newExec:  newExec,
		log:      logging.OrDiscard(log),
	}
}

// Create creates a new job for an upload named filename
func (m *JobManager) Create(filename string) (Job, error) {
	if m.root != "" {
		if err := os.MkdirAll(m.root, 0o755); err != nil {
			return Job{}, fmt.Errorf("create job root: %w", err)
		}
	}
	workDir, err := os.MkdirTemp(m.root, "track-loop-job-*")
	if err != nil {
		return Job{}, fmt.Errorf("create job dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".webm"
	}

	job := &Job{
		ID:         uuid.NewString(),
		Status:     StatusPending,
		Stage:      "Uploading...",
		Filename:   filename,
		CreatedAt:  time.Now(),
		WorkDir:    workDir,
		InputPath:  filepath.Join(workDir, "input"+ext),
		OutputPath: filepath.Join(workDir, "converted.wav"),
		MIDIPath:   filepath.Join(workDir, "converted.mid"),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return *job, nil
}

// Get retrieves a copy of the job by ID
func (m *JobManager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Len returns the number of tracked jobs
func (m *JobManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

func (m *JobManager) update(id string, fn func(j *Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

// Start runs the job in the background. The run outlives the request that
// created it and is cancelled by Close.
func (m *JobManager) Start(id string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Process(m.ctx, id)
	}()
}

// Process runs the conversion pipeline for a job and schedules its expiry
func (m *JobManager) Process(ctx context.Context, id string) {
	job, ok := m.Get(id)
	if !ok {
		return
	}
	log := m.log.WithField(logging.FieldJob, id)
	defer time.AfterFunc(m.ttl, func() { m.Remove(id) })

	m.update(id, func(j *Job) { j.Status = StatusProcessing })

	cfg := m.template
	cfg.InputPath = job.InputPath
	cfg.OutputPath = job.OutputPath
	cfg.MIDIOutputPath = job.MIDIPath
	cfg.WorkDir = job.WorkDir

	exec := m.newExec(&stageWriter{m: m, id: id})
	result, err := exec.Execute(ctx, cfg)
	if err != nil {
		log.WithError(err).Errorf("conversion failed: %+v", err)
		m.update(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
			if kind := apperrors.Kind(err); kind != nil {
				j.Kind = kind.Error()
			}
			j.FinishedAt = time.Now()
		})
		return
	}

	log.WithField("notes", result.Notes).Info("conversion complete")
	m.update(id, func(j *Job) {
		j.Status = StatusComplete
		j.Stage = "Complete!"
		j.Notes = result.Notes
		j.Rendered = result.Rendered
		j.FinishedAt = time.Now()
	})
}

// Remove deletes the job and its files
func (m *JobManager) Remove(id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	delete(m.jobs, id)
	m.mu.Unlock()

	if ok {
		if err := os.RemoveAll(job.WorkDir); err != nil {
			m.log.WithError(err).WithField(logging.FieldJob, id).Warn("error removing job files")
		}
	}
}

// Close cancels running jobs, waits for them to stop and removes every
// job directory.
func (m *JobManager) Close() {
	m.cancel()
	m.wg.Wait()

	m.mu.RLock()
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Remove(id)
	}
}

// stageWriter turns progress reporter lines into the job's stage
type stageWriter struct {
	m  *JobManager
	id string
}

func (w *stageWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		w.m.update(w.id, func(j *Job) { j.Stage = line })
	}
	return len(p), nil
}
