package scoring

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tphakala/imaging-churn/internal/errors"
)

// BackendLightGBM names the LightGBM text model backend.
const BackendLightGBM = "lightgbm"

// decision_type bit layout of a LightGBM split.
const (
	decisionCategorical = 1 << 0
	decisionDefaultLeft = 1 << 1
	missingTypeShift    = 2
	missingTypeMask     = 3

	missingNone = 0
	missingZero = 1
	missingNaN  = 2

	zeroThreshold = 1e-35
)

// lgbTree is one regression tree in array form. Child indexes >= 0 point at
// internal nodes, negative values encode leaf ^index.
type lgbTree struct {
	splitFeature []int
	threshold    []float64
	decisionType []int
	leftChild    []int
	rightChild   []int
	leafValue    []float64
}

// LightGBMModel evaluates a LightGBM binary classifier saved with
// Booster.save_model in text format.
type LightGBMModel struct {
	trees         []lgbTree
	sigmoid       float64
	averageOutput bool
	numFeatures   int
	featureNames  []string
}

// LoadLightGBMFile parses the model file at path.
func LoadLightGBMFile(path string) (*LightGBMModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("scoring").
			Category(errors.CategoryModelLoad).
			ModelContext(path, BackendLightGBM).
			Build()
	}
	defer f.Close()

	m, err := ParseLightGBM(f)
	if err != nil {
		return nil, errors.New(err).
			Component("scoring").
			Category(errors.CategoryModelLoad).
			ModelContext(path, BackendLightGBM).
			Build()
	}
	return m, nil
}

// ParseLightGBM reads a LightGBM text model. Only numerical splits and the
// binary objective are supported. When the model lists feature names they
// must match FeatureOrder.
func ParseLightGBM(r io.Reader) (*LightGBMModel, error) {
	m := &LightGBMModel{sigmoid: 1}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var cur map[string]string
	flush := func() error {
		if cur == nil {
			return nil
		}
		t, err := buildTree(cur, len(m.trees))
		if err != nil {
			return err
		}
		m.trees = append(m.trees, t)
		cur = nil
		return nil
	}

	inHeader := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "end of trees" {
			break
		}

		// average_output is written as a bare flag line in the header.
		if inHeader && line == "average_output" {
			m.averageOutput = true
			continue
		}

		key, value, hasValue := strings.Cut(line, "=")
		if key == "Tree" {
			if err := flush(); err != nil {
				return nil, err
			}
			inHeader = false
			cur = make(map[string]string)
			continue
		}
		if !hasValue {
			continue
		}

		if !inHeader {
			cur[key] = value
			continue
		}

		switch key {
		case "objective":
			if err := m.parseObjective(value); err != nil {
				return nil, err
			}
		case "max_feature_idx":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("max_feature_idx: %w", err)
			}
			m.numFeatures = n + 1
		case "feature_names":
			m.featureNames = strings.Fields(value)
		case "num_class":
			if value != "1" {
				return nil, fmt.Errorf("multiclass models are not supported (num_class=%s)", value)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(m.trees) == 0 {
		return nil, fmt.Errorf("model contains no trees")
	}
	if m.featureNames != nil {
		if len(m.featureNames) != len(FeatureOrder) {
			return nil, fmt.Errorf("model has %d features, expected %d", len(m.featureNames), len(FeatureOrder))
		}
		for i, name := range m.featureNames {
			if name != FeatureOrder[i] {
				return nil, fmt.Errorf("feature %d is %q, expected %q", i, name, FeatureOrder[i])
			}
		}
	}
	if m.numFeatures == 0 {
		m.numFeatures = len(FeatureOrder)
	}
	return m, nil
}

// parseObjective accepts "binary" with an optional "sigmoid:<x>" parameter.
func (m *LightGBMModel) parseObjective(value string) error {
	fields := strings.Fields(value)
	if len(fields) == 0 || fields[0] != "binary" {
		return fmt.Errorf("unsupported objective %q, expected binary", value)
	}
	for _, f := range fields[1:] {
		if v, ok := strings.CutPrefix(f, "sigmoid:"); ok {
			s, err := strconv.ParseFloat(v, 64)
			if err != nil || s <= 0 {
				return fmt.Errorf("invalid sigmoid parameter %q", v)
			}
			m.sigmoid = s
		}
	}
	return nil
}

func buildTree(kv map[string]string, index int) (lgbTree, error) {
	var t lgbTree
	numLeaves, err := strconv.Atoi(kv["num_leaves"])
	if err != nil || numLeaves < 1 {
		return t, fmt.Errorf("tree %d: invalid num_leaves %q", index, kv["num_leaves"])
	}

	if t.leafValue, err = parseFloats(kv["leaf_value"]); err != nil {
		return t, fmt.Errorf("tree %d: leaf_value: %w", index, err)
	}
	if len(t.leafValue) != numLeaves {
		return t, fmt.Errorf("tree %d: %d leaf values for %d leaves", index, len(t.leafValue), numLeaves)
	}
	if numLeaves == 1 {
		return t, nil
	}

	if t.splitFeature, err = parseInts(kv["split_feature"]); err != nil {
		return t, fmt.Errorf("tree %d: split_feature: %w", index, err)
	}
	if t.threshold, err = parseFloats(kv["threshold"]); err != nil {
		return t, fmt.Errorf("tree %d: threshold: %w", index, err)
	}
	if t.decisionType, err = parseInts(kv["decision_type"]); err != nil {
		return t, fmt.Errorf("tree %d: decision_type: %w", index, err)
	}
	if t.leftChild, err = parseInts(kv["left_child"]); err != nil {
		return t, fmt.Errorf("tree %d: left_child: %w", index, err)
	}
	if t.rightChild, err = parseInts(kv["right_child"]); err != nil {
		return t, fmt.Errorf("tree %d: right_child: %w", index, err)
	}

	n := numLeaves - 1
	for name, l := range map[string]int{
		"split_feature": len(t.splitFeature),
		"threshold":     len(t.threshold),
		"decision_type": len(t.decisionType),
		"left_child":    len(t.leftChild),
		"right_child":   len(t.rightChild),
	} {
		if l != n {
			return t, fmt.Errorf("tree %d: %s has %d entries, expected %d", index, name, l, n)
		}
	}
	for i, dt := range t.decisionType {
		if dt&decisionCategorical != 0 {
			return t, fmt.Errorf("tree %d: node %d uses a categorical split, which is not supported", index, i)
		}
	}
	for i := range n {
		for _, c := range []int{t.leftChild[i], t.rightChild[i]} {
			if c >= n || (c < 0 && ^c >= numLeaves) {
				return t, fmt.Errorf("tree %d: node %d has out of range child %d", index, i, c)
			}
		}
	}
	return t, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// predict walks the tree for x and returns the leaf value.
func (t *lgbTree) predict(x []float64) float64 {
	if len(t.splitFeature) == 0 {
		return t.leafValue[0]
	}
	node := 0
	for node >= 0 {
		if goLeft(x[t.splitFeature[node]], t.threshold[node], t.decisionType[node]) {
			node = t.leftChild[node]
		} else {
			node = t.rightChild[node]
		}
	}
	return t.leafValue[^node]
}

func goLeft(v, threshold float64, decisionType int) bool {
	missing := (decisionType >> missingTypeShift) & missingTypeMask
	defaultLeft := decisionType&decisionDefaultLeft != 0

	if math.IsNaN(v) && missing != missingNaN {
		v = 0
	}
	switch {
	case missing == missingZero && math.Abs(v) <= zeroThreshold:
		return defaultLeft
	case missing == missingNaN && math.IsNaN(v):
		return defaultLeft
	}
	return v <= threshold
}

// Raw returns the summed tree output before the sigmoid.
func (m *LightGBMModel) Raw(x []float64) float64 {
	var sum float64
	for i := range m.trees {
		sum += m.trees[i].predict(x)
	}
	if m.averageOutput {
		sum /= float64(len(m.trees))
	}
	return sum
}

// Score returns the positive class probability for x.
func (m *LightGBMModel) Score(x []float64) (float64, error) {
	if len(x) < m.numFeatures {
		return 0, fmt.Errorf("got %d features, model expects %d", len(x), m.numFeatures)
	}
	return 1 / (1 + math.Exp(-m.sigmoid*m.Raw(x))), nil
}

// NumTrees returns the number of trees in the ensemble.
func (m *LightGBMModel) NumTrees() int { return len(m.trees) }

// Backend implements Scorer.
func (m *LightGBMModel) Backend() string { return BackendLightGBM }

// Close implements Scorer.
func (m *LightGBMModel) Close() error { return nil }
