package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/pkg/imagegen"
)

// memStore is an in-memory store.Store for pipeline tests.
type memStore struct {
	mu          sync.Mutex
	runs        map[string]*model.Run
	checkpoints map[string]map[string]float64
	artifacts   map[string]model.Artifact
	candidates  []model.PromptCandidate
	decisions   []model.Decision
	attempts    []model.RetryAttempt
	manifest    map[string]map[string]model.ManifestEntry

	failMarkComplete bool
	failPutArtifact  bool
}

func newMemStore() *memStore {
	return &memStore{
		runs:        make(map[string]*model.Run),
		checkpoints: make(map[string]map[string]float64),
		artifacts:   make(map[string]model.Artifact),
		manifest:    make(map[string]map[string]model.ManifestEntry),
	}
}

func (m *memStore) CreateRun(_ context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &model.Run{ID: runID, Status: model.RunStatusRunning, StartedAt: time.Now()}
	m.runs[runID] = run
	return run, nil
}

func (m *memStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		run.Status = status
	}
	return nil
}

func (m *memStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) ListRuns(_ context.Context, _ int) ([]model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memStore) MarkComplete(_ context.Context, runID, assetID string, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMarkComplete {
		return eris.New("mark complete failed")
	}
	if m.checkpoints[runID] == nil {
		m.checkpoints[runID] = make(map[string]float64)
	}
	m.checkpoints[runID][assetID] = cost
	if run, ok := m.runs[runID]; ok {
		run.Spent += cost
	}
	return nil
}

func (m *memStore) LoadCheckpoint(_ context.Context, runID string) (*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.checkpoints[runID]
	if !ok {
		return nil, nil
	}
	cp := &model.Checkpoint{RunID: runID, Completed: make(map[string]struct{})}
	for id, cost := range items {
		cp.Completed[id] = struct{}{}
		cp.SpentSoFar += cost
	}
	return cp, nil
}

func (m *memStore) DailySpend(_ context.Context, _ time.Time) (float64, error) {
	return 0, nil
}

func (m *memStore) GetArtifact(_ context.Context, fp string) (*model.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[fp]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memStore) PutArtifact(_ context.Context, a model.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPutArtifact {
		return eris.New("put artifact failed")
	}
	if _, exists := m.artifacts[a.Fingerprint]; !exists {
		m.artifacts[a.Fingerprint] = a
	}
	return nil
}

func (m *memStore) DeleteArtifact(_ context.Context, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.artifacts, fp)
	return nil
}

func (m *memStore) SaveCandidates(_ context.Context, _ string, cands []model.PromptCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, cands...)
	return nil
}

func (m *memStore) SaveDecision(_ context.Context, _ string, d model.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

func (m *memStore) SaveRetryAttempt(_ context.Context, _ string, a model.RetryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memStore) SaveManifestEntry(_ context.Context, runID string, e model.ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.manifest[runID] == nil {
		m.manifest[runID] = make(map[string]model.ManifestEntry)
	}
	m.manifest[runID][e.AssetID] = e
	return nil
}

func (m *memStore) GetManifest(_ context.Context, runID string) ([]model.ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ManifestEntry, 0, len(m.manifest[runID]))
	for _, e := range m.manifest[runID] {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) Migrate(_ context.Context) error { return nil }
func (m *memStore) Close() error                    { return nil }

func (m *memStore) entry(runID, assetID string) (model.ManifestEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.manifest[runID][assetID]
	return e, ok
}

// fakeModel is a scripted competition competitor.
type fakeModel struct {
	name     string
	provider string
	priority int
	propose  func(req model.GenerationRequest) (*model.PromptCandidate, float64, error)
}

func (f *fakeModel) Name() string     { return f.name }
func (f *fakeModel) Provider() string { return f.provider }
func (f *fakeModel) Priority() int    { return f.priority }

func (f *fakeModel) Propose(_ context.Context, req model.GenerationRequest) (*model.PromptCandidate, float64, error) {
	return f.propose(req)
}

// staticModel proposes the same prompt with a fixed confidence at no cost.
func staticModel(name string, confidence float64, prompt func(model.GenerationRequest) string) *fakeModel {
	return &fakeModel{
		name:     name,
		provider: "fake",
		priority: 1,
		propose: func(req model.GenerationRequest) (*model.PromptCandidate, float64, error) {
			return &model.PromptCandidate{
				ID:         name + "-" + req.AssetID,
				PromptText: prompt(req),
				Confidence: confidence,
				Rationale:  "scripted",
				CreatedAt:  time.Now(),
			}, 0, nil
		},
	}
}

// fakeSynth is a scripted image synthesis client that counts calls.
type fakeSynth struct {
	mu    sync.Mutex
	calls int
	gen   func(req imagegen.GenerateRequest) (*imagegen.GenerateResponse, error)
}

func (f *fakeSynth) Generate(_ context.Context, req imagegen.GenerateRequest) (*imagegen.GenerateResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gen != nil {
		return f.gen(req)
	}
	return &imagegen.GenerateResponse{Model: req.Model, ImageData: []byte("png")}, nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePublisher records uploads.
type fakePublisher struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakePublisher) Upload(_ context.Context, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.paths = append(f.paths, localPath)
	return "https://cdn.example.com/" + localPath, nil
}
