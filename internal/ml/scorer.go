package ml

import (
	"errors"
	"io/fs"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/priyanshumishra610/SentinelVNC/internal/features"
)

// Prediction is C4's output: an anomaly probability plus advisory
// per-feature attributions.
type Prediction struct {
	Score             float64
	FeatureImportance map[string]float64 // nil when unavailable
	ModelLoaded       bool
	Diagnostic        string // set iff !ModelLoaded
}

// Scorer loads a model artifact once at startup and answers concurrent
// Predict calls from any forwarder goroutine; the artifact is read-only
// after construction so no locking is needed on the inference path.
type Scorer struct {
	artifact *Artifact
	loaded   atomic.Bool
}

// NewScorer attempts to load modelPath. If the artifact is absent, the
// Scorer is still usable: Predict returns score 0.0 with a diagnostic
// instead of failing, per spec.md §4.3. A malformed or layout-mismatched
// artifact IS fatal — returned as an error for the caller's startup path to
// surface with exit code 2 (spec.md §7).
func NewScorer(modelPath string) (*Scorer, error) {
	s := &Scorer{}
	if modelPath == "" {
		log.Warn().Msg("ml: no MODEL_PATH configured; scorer runs unscored (score=0.0)")
		return s, nil
	}
	a, err := LoadArtifact(modelPath)
	if err != nil {
		if isNotExist(err) {
			log.Warn().Str("path", modelPath).Msg("ml: model artifact not found; scorer runs unscored (score=0.0)")
			return s, nil
		}
		return nil, err
	}
	s.artifact = a
	s.loaded.Store(true)
	return s, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Predict scores one feature vector. Safe to call concurrently.
func (s *Scorer) Predict(f [features.Length]float64) Prediction {
	if !s.loaded.Load() || s.artifact == nil {
		return Prediction{Score: 0.0, ModelLoaded: false, Diagnostic: "model-not-loaded"}
	}

	score, err := s.artifact.score(f)
	if err != nil {
		return Prediction{Score: 0.0, ModelLoaded: false, Diagnostic: err.Error()}
	}

	var importance map[string]float64
	if len(s.artifact.FeatureImportance) == features.Length {
		importance = make(map[string]float64, features.Length)
		for i, name := range features.Names {
			importance[name] = s.artifact.FeatureImportance[i]
		}
	}

	return Prediction{Score: score, FeatureImportance: importance, ModelLoaded: true}
}

// Loaded reports whether a model artifact is currently backing this Scorer.
func (s *Scorer) Loaded() bool { return s.loaded.Load() }
