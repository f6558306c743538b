// Package ml implements C4: a lightweight tree-ensemble anomaly scorer.
//
// The model artifact is a JSON-encoded forest of axis-aligned decision
// trees, the same shape a trained RandomForestClassifier reduces to. A
// pure-Go reader is deliberately used instead of a cgo/native ML runtime:
// scoring happens synchronously in the per-chunk hot path of every
// forwarder goroutine (spec.md §5), and none of the ML runtimes available
// in the wider ecosystem (ONNX runtime bindings, gomlx) are pure Go — they
// would pull a C runtime or GPU backend into a process whose only job is to
// bridge two sockets. See DESIGN.md for the full justification.
package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/priyanshumishra610/SentinelVNC/internal/features"
)

// Node is one node of a decision tree. Leaf nodes set Value and leave
// FeatureIdx at -1; internal nodes route left when the feature is <=
// Threshold, right otherwise.
type Node struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	Left       *Node   `json:"left,omitempty"`
	Right      *Node   `json:"right,omitempty"`
	Value      float64 `json:"value"` // leaf: P(anomaly) contributed by this tree
}

func (n *Node) isLeaf() bool { return n.Left == nil && n.Right == nil }

// Artifact is the on-disk model: an ordered forest plus the feature-name
// layout it was trained against, and optional global feature importances.
type Artifact struct {
	FeatureNames      []string   `json:"feature_names"`
	Trees             []*Node    `json:"trees"`
	FeatureImportance []float64  `json:"feature_importance,omitempty"`
}

// LoadArtifact reads and validates a model artifact from path. A missing
// file is returned as the underlying read error (matching fs.ErrNotExist);
// callers (NewScorer) decide whether absence means "run unscored"
// (spec.md §4.3).
func LoadArtifact(path string) (*Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if err := a.validateLayout(); err != nil {
		return nil, err
	}
	return &a, nil
}

// validateLayout checks the artifact's feature-name list matches the
// feature extractor's contract exactly. A mismatch is a fatal configuration
// error surfaced at startup, never per-event (spec.md §4.3, §7).
func (a *Artifact) validateLayout() error {
	if len(a.FeatureNames) == 0 {
		return nil // artifacts that don't assert a layout are trusted as-is
	}
	if len(a.FeatureNames) != features.Length {
		return fmt.Errorf("model feature layout mismatch: artifact has %d features, expected %d",
			len(a.FeatureNames), features.Length)
	}
	for i, name := range a.FeatureNames {
		if name != features.Names[i] {
			return fmt.Errorf("model feature layout mismatch at index %d: artifact has %q, expected %q",
				i, name, features.Names[i])
		}
	}
	return nil
}

var errNoTrees = errors.New("model artifact has no trees")

// score walks every tree for the given feature vector and averages the leaf
// values, the standard random-forest predict_proba reduction.
func (a *Artifact) score(f [features.Length]float64) (float64, error) {
	if len(a.Trees) == 0 {
		return 0, errNoTrees
	}
	var sum float64
	for _, root := range a.Trees {
		sum += walk(root, f)
	}
	return sum / float64(len(a.Trees)), nil
}

func walk(n *Node, f [features.Length]float64) float64 {
	for !n.isLeaf() {
		if n.FeatureIdx < 0 || n.FeatureIdx >= features.Length {
			return n.Value
		}
		if f[n.FeatureIdx] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
		if n == nil {
			return 0
		}
	}
	return n.Value
}
