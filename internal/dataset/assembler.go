// Package dataset writes per-athlete snapshots during a run and the consolidated dataset at the end.
package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

const (
	runStampFormat = "20060102_150405"
	latestDir      = "latest"
	runsDir        = "runs"
	entitiesDir    = "entities"

	jsonType  = "application/json"
	jsonlType = "application/x-ndjson"
	csvType   = "text/csv; charset=utf-8"
)

// Artifact file names, identical under runs/<stamp>/ and latest/.
const (
	FullName    = "entities_full.json"
	RawName     = "entities_raw.json"
	JSONLName   = "leaf_records.jsonl"
	LeafCSVName = "leaf_records.csv"
	SummaryName = "entity_summary.csv"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Run is everything the assembler needs about a finished crawl.
type Run struct {
	JobID      string
	Parameters crawler.JobParameters
	Results    []crawler.EntityResult
	Summary    crawler.Summary
}

// StateStore records the manifest and option universe next to the job checkpoints.
type StateStore interface {
	SaveRun(ctx context.Context, manifest crawler.RunManifest) error
	SaveOptions(ctx context.Context, opts crawler.OptionSet) error
	LoadOptions(ctx context.Context) (crawler.OptionSet, error)
}

// LeafMirror receives the flattened heat rows of each assembled run.
type LeafMirror interface {
	StoreLeafRows(ctx context.Context, jobID string, rows []LeafRow) error
}

// Config controls optional behavior.
type Config struct {
	// Topic receives a notification per assembled run when a publisher is configured.
	Topic string
}

// Assembler implements the incremental and consolidated dataset writes.
type Assembler struct {
	blobs     crawler.BlobStore
	state     StateStore
	hasher    crawler.Hasher
	clock     crawler.Clock
	mirror    LeafMirror
	publisher crawler.Publisher
	cfg       Config
	logger    *zap.Logger
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithMirror copies heat rows to a secondary store after each run.
func WithMirror(m LeafMirror) Option {
	return func(a *Assembler) { a.mirror = m }
}

// WithPublisher announces each assembled run.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *Assembler) { a.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// New constructs an Assembler.
func New(
	blobs crawler.BlobStore,
	state StateStore,
	hasher crawler.Hasher,
	clock crawler.Clock,
	cfg Config,
	opts ...Option,
) *Assembler {
	a := &Assembler{
		blobs:  blobs,
		state:  state,
		hasher: hasher,
		clock:  clock,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SaveEntity writes one athlete's result to entities/<id>_<Name>.json.
func (a *Assembler) SaveEntity(ctx context.Context, result crawler.EntityResult) error {
	data, err := json.MarshalIndent(normalize(result), "", "  ")
	if err != nil {
		return fmt.Errorf("encode entity %s: %w", result.Descriptor.ID, err)
	}
	if _, err := a.blobs.PutObject(ctx, EntityPath(result.Descriptor), jsonType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save entity %s: %w", result.Descriptor.ID, err)
	}
	return nil
}

// EntityPath names an athlete's incremental snapshot.
func EntityPath(d crawler.EntityDescriptor) string {
	name := strings.Trim(unsafeName.ReplaceAllString(d.DisplayName, "_"), "_")
	id := strings.Trim(unsafeName.ReplaceAllString(d.ID, "_"), "_")
	if name == "" {
		return path.Join(entitiesDir, id+".json")
	}
	return path.Join(entitiesDir, id+"_"+name+".json")
}

type artifact struct {
	name        string
	contentType string
	data        []byte
	rows        int
}

type fullDocument struct {
	Metadata fullMetadata           `json:"metadata"`
	Entities []crawler.EntityResult `json:"entities"`
}

type fullMetadata struct {
	JobID       string                `json:"job_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Parameters  crawler.JobParameters `json:"parameters"`
	Summary     crawler.Summary       `json:"summary"`
}

// Assemble writes the consolidated snapshots for a run, sorted by athlete id, into a
// timestamped run directory and latest/, then records the manifest and option universe.
func (a *Assembler) Assemble(ctx context.Context, run Run) (crawler.RunManifest, error) {
	generated := a.clock.Now().UTC()
	results := make([]crawler.EntityResult, len(run.Results))
	for i, res := range run.Results {
		results[i] = normalize(res)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Descriptor.ID < results[j].Descriptor.ID
	})
	rows := Flatten(results)

	artifacts, err := buildArtifacts(run, generated, results, rows)
	if err != nil {
		return crawler.RunManifest{}, err
	}

	manifest := crawler.RunManifest{
		JobID:       run.JobID,
		RunDir:      path.Join(runsDir, generated.Format(runStampFormat)),
		GeneratedAt: generated,
		Summary:     run.Summary,
	}
	for _, art := range artifacts {
		digest, err := a.hasher.Hash(art.data)
		if err != nil {
			return crawler.RunManifest{}, fmt.Errorf("hash %s: %w", art.name, err)
		}
		runRef, err := a.write(ctx, path.Join(manifest.RunDir, art.name), art, digest)
		if err != nil {
			return crawler.RunManifest{}, err
		}
		latestRef, err := a.write(ctx, path.Join(latestDir, art.name), art, digest)
		if err != nil {
			return crawler.RunManifest{}, err
		}
		manifest.Artifacts = append(manifest.Artifacts, runRef)
		manifest.Latest = append(manifest.Latest, latestRef)
	}

	if err := a.state.SaveRun(ctx, manifest); err != nil {
		return crawler.RunManifest{}, fmt.Errorf("save run manifest: %w", err)
	}
	if err := a.saveOptions(ctx, run, results, generated); err != nil {
		return crawler.RunManifest{}, err
	}

	a.mirrorRows(ctx, run.JobID, rows)
	a.announce(ctx, manifest)
	a.logger.Info("dataset assembled",
		zap.String("job_id", run.JobID),
		zap.String("run_dir", manifest.RunDir),
		zap.Int("entities", len(results)),
		zap.Int("leaf_rows", len(rows)),
	)
	return manifest, nil
}

func buildArtifacts(
	run Run,
	generated time.Time,
	results []crawler.EntityResult,
	rows []LeafRow,
) ([]artifact, error) {
	full, err := json.MarshalIndent(fullDocument{
		Metadata: fullMetadata{
			JobID:       run.JobID,
			GeneratedAt: generated,
			Parameters:  run.Parameters,
			Summary:     run.Summary,
		},
		Entities: results,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", FullName, err)
	}
	raw, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", RawName, err)
	}

	var jsonl bytes.Buffer
	enc := json.NewEncoder(&jsonl)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("encode %s: %w", JSONLName, err)
		}
	}

	leafRecords := make([][]string, 0, len(rows))
	for _, row := range rows {
		leafRecords = append(leafRecords, row.record())
	}
	leafCSV, err := encodeCSV(leafHeader, leafRecords)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", LeafCSVName, err)
	}

	summaryRecords := make([][]string, 0, len(results))
	for _, res := range results {
		summaryRecords = append(summaryRecords, summaryRecord(res))
	}
	summaryCSV, err := encodeCSV(summaryHeader, summaryRecords)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", SummaryName, err)
	}

	return []artifact{
		{name: FullName, contentType: jsonType, data: full, rows: len(results)},
		{name: RawName, contentType: jsonType, data: raw, rows: len(results)},
		{name: JSONLName, contentType: jsonlType, data: jsonl.Bytes(), rows: len(rows)},
		{name: LeafCSVName, contentType: csvType, data: leafCSV, rows: len(rows)},
		{name: SummaryName, contentType: csvType, data: summaryCSV, rows: len(results)},
	}, nil
}

func (a *Assembler) write(ctx context.Context, name string, art artifact, digest string) (crawler.ArtifactRef, error) {
	uri, err := a.blobs.PutObject(ctx, name, art.contentType, bytes.NewReader(art.data))
	if err != nil {
		return crawler.ArtifactRef{}, fmt.Errorf("write %s: %w", name, err)
	}
	return crawler.ArtifactRef{
		Name:   art.name,
		URI:    uri,
		SHA256: digest,
		Rows:   art.rows,
		Bytes:  len(art.data),
	}, nil
}

// saveOptions merges what this run saw into the stored option universe.
func (a *Assembler) saveOptions(
	ctx context.Context,
	run Run,
	results []crawler.EntityResult,
	generated time.Time,
) error {
	opts, err := a.state.LoadOptions(ctx)
	if err != nil && !errors.Is(err, crawler.ErrNotFound) {
		return fmt.Errorf("load options: %w", err)
	}
	years := append([]int(nil), opts.Years...)
	years = append(years, run.Parameters.Years...)
	var (
		tourValues     = append([]string(nil), opts.Tours...)
		locationValues = append([]string(nil), opts.Locations...)
		entities       = append([]crawler.EntityDescriptor(nil), opts.Entities...)
	)
	for _, res := range results {
		entities = append(entities, res.Descriptor)
		for _, sub := range res.SubRecords {
			years = append(years, sub.Year)
			tourValues = append(tourValues, sub.CategoryTag)
			locationValues = append(locationValues, sub.Location)
		}
	}

	merged := crawler.OptionSet{
		Years:     uniqueInts(years),
		Tours:     uniqueStrings(tourValues),
		Locations: uniqueStrings(locationValues),
		Entities:  uniqueEntities(entities),
		UpdatedAt: generated,
	}
	if err := a.state.SaveOptions(ctx, merged); err != nil {
		return fmt.Errorf("save options: %w", err)
	}
	return nil
}

func (a *Assembler) mirrorRows(ctx context.Context, jobID string, rows []LeafRow) {
	if a.mirror == nil || len(rows) == 0 {
		return
	}
	if err := a.mirror.StoreLeafRows(ctx, jobID, rows); err != nil {
		a.logger.Warn("leaf row mirror failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (a *Assembler) announce(ctx context.Context, manifest crawler.RunManifest) {
	if a.publisher == nil || a.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"job_id":       manifest.JobID,
		"run_dir":      manifest.RunDir,
		"generated_at": manifest.GeneratedAt.Format(time.RFC3339),
		"summary":      manifest.Summary,
		"artifacts":    manifest.Latest,
	}
	if _, err := a.publisher.Publish(ctx, a.cfg.Topic, payload); err != nil {
		a.logger.Warn("run notification failed", zap.String("job_id", manifest.JobID), zap.Error(err))
	}
}

// normalize gives every slice a non-nil value so JSON output uses [] rather than null.
func normalize(res crawler.EntityResult) crawler.EntityResult {
	out := res
	out.SubRecords = make([]crawler.SubRecord, len(res.SubRecords))
	for i, sub := range res.SubRecords {
		children := make([]crawler.LeafRecord, len(sub.Children))
		for j, leaf := range sub.Children {
			if leaf.SubScores == nil {
				leaf.SubScores = []float64{}
			}
			children[j] = leaf
		}
		sub.Children = children
		out.SubRecords[i] = sub
	}
	return out
}

func encodeCSV(header []string, records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uniqueInts(in []int) []int {
	set := map[int]struct{}{}
	out := []int{}
	for _, v := range in {
		if v <= 0 {
			continue
		}
		if _, ok := set[v]; !ok {
			set[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func uniqueStrings(in []string) []string {
	set := map[string]struct{}{}
	out := []string{}
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; !ok {
			set[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// uniqueEntities keeps the latest descriptor per id, sorted by name.
func uniqueEntities(in []crawler.EntityDescriptor) []crawler.EntityDescriptor {
	byID := map[string]crawler.EntityDescriptor{}
	for _, d := range in {
		if d.ID != "" {
			byID[d.ID] = d
		}
	}
	out := make([]crawler.EntityDescriptor, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}
