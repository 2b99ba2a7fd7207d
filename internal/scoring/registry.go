package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikey/phish-guard/internal/core"
	"go.uber.org/zap"
)

// Artifact file names inside the model directory
const (
	VectorizerFile   = "tfidf.json"
	ScalerFile       = "scaler.json"
	TextModelFile    = "xgb_model.json"
	FeatureModelFile = "feature_model.json"
	FeatureNamesFile = "feature_names.json"
	VersionFile      = "model_version.txt"

	defaultVersion = "1.0.0"
)

// Artifacts is one immutable, fully loaded model set
type Artifacts struct {
	Vectorizer   *Vectorizer
	Scaler       *Scaler
	TextModel    *Ensemble
	FeatureModel *Ensemble
	FeatureNames []string
	Version      string
	LoadedAt     time.Time
}

// ModelRegistry owns the scoring artifacts. The first Get loads them once;
// Reload swaps in a fresh set atomically and keeps the old one on failure.
type ModelRegistry struct {
	dir    string
	source core.ArtifactSource
	logger *zap.Logger

	once    sync.Once
	loadErr error
	current atomic.Pointer[Artifacts]
	reload  sync.Mutex
}

// NewModelRegistry creates a registry over dir; source may be nil
func NewModelRegistry(dir string, source core.ArtifactSource, logger *zap.Logger) *ModelRegistry {
	return &ModelRegistry{
		dir:    dir,
		source: source,
		logger: logger,
	}
}

// Get returns the active artifacts, loading them on first use
func (r *ModelRegistry) Get(ctx context.Context) (*Artifacts, error) {
	r.once.Do(func() {
		a, err := r.fetchAndLoad(ctx)
		if err != nil {
			r.loadErr = err
			r.logger.Error("Failed to load model artifacts", zap.String("dir", r.dir), zap.Error(err))
			return
		}
		r.current.CompareAndSwap(nil, a)
	})
	if a := r.current.Load(); a != nil {
		return a, nil
	}
	return nil, r.loadErr
}

// Current returns the active artifacts without triggering a load
func (r *ModelRegistry) Current() *Artifacts {
	return r.current.Load()
}

// Reload loads a fresh artifact set and swaps it in
func (r *ModelRegistry) Reload(ctx context.Context) error {
	r.reload.Lock()
	defer r.reload.Unlock()

	a, err := r.fetchAndLoad(ctx)
	if err != nil {
		r.logger.Error("Model reload failed, keeping current artifacts", zap.Error(err))
		return err
	}
	old := r.current.Swap(a)

	fields := []zap.Field{zap.String("version", a.Version)}
	if old != nil {
		fields = append(fields, zap.String("previous_version", old.Version))
	}
	r.logger.Info("Model artifacts reloaded", fields...)
	return nil
}

func (r *ModelRegistry) fetchAndLoad(ctx context.Context) (*Artifacts, error) {
	if r.source != nil {
		if err := r.source.Sync(ctx, r.dir); err != nil {
			return nil, fmt.Errorf("%w: failed to sync artifacts: %v", core.ErrModelUnavailable, err)
		}
	}
	return LoadArtifacts(r.dir)
}

// LoadArtifacts reads and validates a model directory. Any missing required
// artifact fails the whole load.
func LoadArtifacts(dir string) (*Artifacts, error) {
	a := &Artifacts{LoadedAt: time.Now()}

	a.Vectorizer = &Vectorizer{}
	if err := readJSON(dir, VectorizerFile, a.Vectorizer); err != nil {
		return nil, err
	}
	if err := a.Vectorizer.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrModelUnavailable, VectorizerFile, err)
	}

	a.Scaler = &Scaler{}
	if err := readJSON(dir, ScalerFile, a.Scaler); err != nil {
		return nil, err
	}
	if err := a.Scaler.validate(a.Vectorizer.Dim()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrModelUnavailable, ScalerFile, err)
	}

	if err := readJSON(dir, FeatureNamesFile, &a.FeatureNames); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	a.TextModel = &Ensemble{}
	if err := readJSON(dir, TextModelFile, a.TextModel); err != nil {
		return nil, err
	}
	if err := a.TextModel.compile(indexNames(a.FeatureNames), a.Vectorizer.Dim()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrModelUnavailable, TextModelFile, err)
	}

	featureModel := &Ensemble{}
	switch err := readJSON(dir, FeatureModelFile, featureModel); {
	case err == nil:
		if err := featureModel.compile(indexNames(core.FeatureNames), len(core.FeatureNames)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrModelUnavailable, FeatureModelFile, err)
		}
		a.FeatureModel = featureModel
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	a.Version = defaultVersion
	if b, err := os.ReadFile(filepath.Join(dir, VersionFile)); err == nil {
		if v := strings.TrimSpace(string(b)); v != "" {
			a.Version = v
		}
	}
	return a, nil
}

// readJSON decodes one artifact; a missing file keeps os.ErrNotExist in the chain
func readJSON(dir, name string, dest interface{}) error {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: artifact not found: %s: %w", core.ErrModelUnavailable, name, err)
		}
		return fmt.Errorf("%w: failed to read %s: %v", core.ErrModelUnavailable, name, err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %v", core.ErrModelUnavailable, name, err)
	}
	return nil
}

func indexNames(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}
