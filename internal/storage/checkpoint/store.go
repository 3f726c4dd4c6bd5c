// Package checkpoint persists the job table, option universe, and latest run manifest as JSON objects.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

// Object paths, relative to the storage root.
const (
	JobsPath    = "checkpoints/jobs_latest.json"
	JobDir      = "checkpoints/jobs"
	OptionsPath = "checkpoints/options_latest.json"
	RunPath     = "checkpoints/run_latest.json"

	contentType = "application/json"
)

// Backend is an object store that can read back what it wrote.
type Backend interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Store reads and writes checkpoint documents. Loads of missing documents match crawler.ErrNotFound.
type Store struct {
	backend Backend
}

// New wraps a backend.
func New(backend Backend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("checkpoint backend is required")
	}
	return &Store{backend: backend}, nil
}

type jobsDocument struct {
	Jobs []crawler.Job `json:"jobs"`
}

// SaveJobs writes the full job table and a standalone copy of the changed job.
func (s *Store) SaveJobs(ctx context.Context, jobs []crawler.Job, changedID string) error {
	if jobs == nil {
		jobs = []crawler.Job{}
	}
	if err := s.put(ctx, JobsPath, jobsDocument{Jobs: jobs}); err != nil {
		return err
	}
	if changedID == "" {
		return nil
	}
	for _, job := range jobs {
		if job.ID == changedID {
			return s.put(ctx, JobPath(changedID), job)
		}
	}
	return nil
}

// LoadJobs returns the last saved job table.
func (s *Store) LoadJobs(ctx context.Context) ([]crawler.Job, error) {
	var doc jobsDocument
	if err := s.get(ctx, JobsPath, &doc); err != nil {
		return nil, err
	}
	return doc.Jobs, nil
}

// SaveOptions records the option universe.
func (s *Store) SaveOptions(ctx context.Context, opts crawler.OptionSet) error {
	return s.put(ctx, OptionsPath, opts)
}

// LoadOptions returns the last recorded option universe.
func (s *Store) LoadOptions(ctx context.Context) (crawler.OptionSet, error) {
	var opts crawler.OptionSet
	if err := s.get(ctx, OptionsPath, &opts); err != nil {
		return crawler.OptionSet{}, err
	}
	return opts, nil
}

// SaveRun records the manifest of the most recent assembled dataset.
func (s *Store) SaveRun(ctx context.Context, manifest crawler.RunManifest) error {
	return s.put(ctx, RunPath, manifest)
}

// LoadRun returns the manifest of the most recent assembled dataset.
func (s *Store) LoadRun(ctx context.Context) (crawler.RunManifest, error) {
	var manifest crawler.RunManifest
	if err := s.get(ctx, RunPath, &manifest); err != nil {
		return crawler.RunManifest{}, err
	}
	return manifest, nil
}

// JobPath is where a single job's snapshot lives.
func JobPath(id string) string {
	return path.Join(JobDir, id+".json")
}

func (s *Store) put(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if _, err := s.backend.PutObject(ctx, name, contentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, name string, v any) error {
	data, err := s.backend.GetObject(ctx, name)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			return fmt.Errorf("load %s: %w", name, crawler.ErrNotFound)
		}
		return fmt.Errorf("load %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
