package scoring

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testVectorizer = `{"vocabulary":{"urgent":0,"verify":1,"account":2,"hello":3},"idf":[1,1,1,1],"ngram_range":[1,1],"norm":"l2"}`
	testScaler     = `{"scale":[1,1,1,1]}`
	testTextModel  = `{"base_score":0.5,"trees":[{"nodeid":0,"split":"f0","split_condition":0.1,"yes":1,"no":2,"missing":1,
		"children":[{"nodeid":1,"leaf":-2},{"nodeid":2,"leaf":2}]}]}`
	testFeatureModel = `{"trees":[{"nodeid":0,"split":"has_urgent_keywords","split_condition":0.5,"yes":1,"no":2,
		"children":[{"nodeid":1,"leaf":-1},{"nodeid":2,"leaf":1}]}]}`
)

func writeArtifacts(t *testing.T, dir string, withFeatureModel bool, version string) {
	t.Helper()
	files := map[string]string{
		VectorizerFile: testVectorizer,
		ScalerFile:     testScaler,
		TextModelFile:  testTextModel,
	}
	if withFeatureModel {
		files[FeatureModelFile] = testFeatureModel
	}
	if version != "" {
		files[VersionFile] = version + "\n"
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
}

func TestLoadArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, true, "2.3.1")

	a, err := LoadArtifacts(dir)

	require.NoError(t, err)
	assert.Equal(t, "2.3.1", a.Version)
	assert.NotNil(t, a.FeatureModel)
	assert.Equal(t, 4, a.Vectorizer.Dim())
}

func TestLoadArtifacts_DefaultVersion(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, false, "")

	a, err := LoadArtifacts(dir)

	require.NoError(t, err)
	assert.Equal(t, "1.0.0", a.Version)
	assert.Nil(t, a.FeatureModel)
}

func TestLoadArtifacts_MissingRequired(t *testing.T) {
	for _, name := range []string{VectorizerFile, ScalerFile, TextModelFile} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeArtifacts(t, dir, false, "")
			require.NoError(t, os.Remove(filepath.Join(dir, name)))

			_, err := LoadArtifacts(dir)

			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrModelUnavailable))
			assert.True(t, errors.Is(err, os.ErrNotExist))
		})
	}
}

func TestLoadArtifacts_ScalerWidthMismatch(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, false, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ScalerFile), []byte(`{"scale":[1,1]}`), 0o644))

	_, err := LoadArtifacts(dir)

	assert.ErrorIs(t, err, core.ErrModelUnavailable)
}

func TestVectorizer_Transform(t *testing.T) {
	v := &Vectorizer{Vocabulary: map[string]int{"urgent": 0, "verify": 1}, IDF: []float64{1, 1}}
	require.NoError(t, v.validate())

	vec := v.Transform("URGENT: please Verify")

	assert.InDelta(t, 1/math.Sqrt2, vec[0], 1e-9)
	assert.InDelta(t, 1/math.Sqrt2, vec[1], 1e-9)
	assert.Empty(t, v.Transform("nothing known"))
}

func TestModelRegistry_ConcurrentGetLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, false, "1.0.0")
	r := NewModelRegistry(dir, nil, zap.NewNop())

	var wg sync.WaitGroup
	got := make([]*Artifacts, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.Get(context.Background())
			assert.NoError(t, err)
			got[i] = a
		}(i)
	}
	wg.Wait()

	for _, a := range got {
		assert.Same(t, got[0], a)
	}
}

func TestModelRegistry_ReloadSwapsAndKeepsOnFailure(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	writeArtifacts(t, dir, false, "1.0.0")
	r := NewModelRegistry(dir, nil, zap.NewNop())
	_, err := r.Get(context.Background())
	require.NoError(t, err)

	// Act
	writeArtifacts(t, dir, false, "2.0.0")
	require.NoError(t, r.Reload(context.Background()))

	// Assert
	assert.Equal(t, "2.0.0", r.Current().Version)

	require.NoError(t, os.Remove(filepath.Join(dir, TextModelFile)))
	err = r.Reload(context.Background())
	assert.ErrorIs(t, err, core.ErrModelUnavailable)
	assert.Equal(t, "2.0.0", r.Current().Version)
}

type failingSource struct{}

func (failingSource) Sync(context.Context, string) error { return errors.New("bucket unreachable") }

func TestModelRegistry_SourceFailure(t *testing.T) {
	r := NewModelRegistry(t.TempDir(), failingSource{}, zap.NewNop())

	_, err := r.Get(context.Background())

	assert.ErrorIs(t, err, core.ErrModelUnavailable)
	assert.Nil(t, r.Current())
}

func TestMLScorer_Score(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	writeArtifacts(t, dir, true, "")
	s := NewMLScorer(NewModelRegistry(dir, nil, zap.NewNop()), 2, zap.NewNop())
	reqs := []core.ScoreRequest{
		core.RawBodyRequest{EmailBody: "URGENT verify your account"},
		core.RawBodyRequest{EmailBody: "hello there"},
		core.StructuredFeaturesRequest{Features: core.FeatureVector{HasUrgentKeywords: 1}},
		core.StructuredFeaturesRequest{Features: core.FeatureVector{SubjectLength: math.NaN()}},
		core.RawBodyRequest{EmailBody: ""},
	}

	// Act
	preds, err := s.Score(context.Background(), reqs)

	// Assert
	require.NoError(t, err)
	require.Len(t, preds, len(reqs))
	assert.Equal(t, 1, preds[0].Label)
	assert.Greater(t, preds[0].Probability, 0.5)
	assert.Equal(t, 0, preds[1].Label)
	assert.Less(t, preds[1].Probability, 0.5)
	assert.Equal(t, 1, preds[2].Label)
	assert.Equal(t, core.Prediction{Fallback: true}, preds[3])
	assert.Equal(t, 0, preds[4].Label)
	assert.False(t, preds[4].Fallback)
	assert.Equal(t, core.ScorerML, s.Mode())
	assert.Equal(t, "1.0.0", s.Version())
}

func TestMLScorer_StructuredWithoutFeatureModel(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, false, "")
	s := NewMLScorer(NewModelRegistry(dir, nil, zap.NewNop()), 0, zap.NewNop())

	preds, err := s.Score(context.Background(), []core.ScoreRequest{
		core.StructuredFeaturesRequest{Features: core.FeatureVector{HasUrgentKeywords: 1}},
	})

	require.NoError(t, err)
	assert.True(t, preds[0].Fallback)
	assert.Zero(t, preds[0].Probability)
}

func TestMLScorer_NotReady(t *testing.T) {
	s := NewMLScorer(NewModelRegistry(t.TempDir(), nil, zap.NewNop()), 0, zap.NewNop())

	_, err := s.Score(context.Background(), []core.ScoreRequest{core.RawBodyRequest{EmailBody: "x"}})

	assert.ErrorIs(t, err, core.ErrModelUnavailable)
	assert.ErrorIs(t, s.Ready(), core.ErrModelUnavailable)
	assert.Empty(t, s.Version())
}

func TestProperty_MLScoresAreProbabilities(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, true, "")
	s := NewMLScorer(NewModelRegistry(dir, nil, zap.NewNop()), 7, zap.NewNop())

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	bodies := []string{"urgent verify", "hello", "account hello urgent", "", "random words here"}

	properties.Property("order_length_and_range_preserved", prop.ForAll(
		func(picks []int) bool {
			reqs := make([]core.ScoreRequest, len(picks))
			for i, k := range picks {
				reqs[i] = core.RawBodyRequest{EmailBody: bodies[k]}
			}
			preds, err := s.Score(context.Background(), reqs)
			if err != nil || len(preds) != len(reqs) {
				return false
			}
			for i, p := range preds {
				if p.Probability < 0 || p.Probability > 1 {
					return false
				}
				single, err := s.Score(context.Background(), reqs[i:i+1])
				if err != nil || single[0] != p {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(bodies)-1)),
	))

	properties.TestingRun(t)
}

func TestHeuristicScorer(t *testing.T) {
	s := NewHeuristicScorer()

	preds, err := s.Score(context.Background(), []core.ScoreRequest{core.RawBodyRequest{}, core.StructuredFeaturesRequest{}})

	require.NoError(t, err)
	assert.Equal(t, []core.Prediction{{}, {}}, preds)
	assert.Equal(t, HeuristicVersion, s.Version())
	assert.NoError(t, s.Ready())
}

type stubLLM struct {
	verdicts map[string]*core.LLMVerdict
}

func (s stubLLM) AnalyzeEmail(_ context.Context, email *core.Email) (*core.LLMVerdict, error) {
	v, ok := s.verdicts[email.Body]
	if !ok {
		return nil, errors.New("model timeout")
	}
	return v, nil
}

func TestLLMScorer_Score(t *testing.T) {
	client := stubLLM{verdicts: map[string]*core.LLMVerdict{
		"phish": {IsPhish: true, Score: 0.93},
		"legit": {IsPhish: false, Score: 0.1},
		"wild":  {IsPhish: true, Score: 4},
	}}
	s := NewLLMScorer(client, "gpt-test", 2, zap.NewNop())

	preds, err := s.Score(context.Background(), []core.ScoreRequest{
		core.RawBodyRequest{EmailBody: "phish"},
		core.RawBodyRequest{EmailBody: "legit"},
		core.RawBodyRequest{EmailBody: "unknown"},
		core.StructuredFeaturesRequest{},
		core.RawBodyRequest{EmailBody: "wild"},
	})

	require.NoError(t, err)
	assert.Equal(t, core.Prediction{Label: 1, Probability: 0.93}, preds[0])
	assert.Equal(t, core.Prediction{Label: 0, Probability: 0.1}, preds[1])
	assert.True(t, preds[2].Fallback)
	assert.True(t, preds[3].Fallback)
	assert.Equal(t, core.Prediction{Label: 1, Probability: 1}, preds[4])
	assert.Equal(t, "llm:gpt-test", s.Version())
}

func TestLLMScorer_NoClient(t *testing.T) {
	s := NewLLMScorer(nil, "", 0, zap.NewNop())

	_, err := s.Score(context.Background(), nil)

	assert.ErrorIs(t, err, core.ErrModelUnavailable)
}
