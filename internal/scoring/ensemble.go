package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Node is one node of an XGBoost JSON tree dump
type Node struct {
	NodeID         int      `json:"nodeid"`
	Split          string   `json:"split,omitempty"`
	SplitCondition float64  `json:"split_condition,omitempty"`
	Yes            int      `json:"yes,omitempty"`
	No             int      `json:"no,omitempty"`
	Missing        int      `json:"missing,omitempty"`
	Leaf           *float64 `json:"leaf,omitempty"`
	Children       []*Node  `json:"children,omitempty"`

	feature int
	yes     *Node
	no      *Node
	missing *Node
}

// Ensemble is a boosted tree model with a logistic link
type Ensemble struct {
	BaseScore    float64  `json:"base_score"`
	Objective    string   `json:"objective"`
	FeatureNames []string `json:"feature_names,omitempty"`
	Trees        []*Node  `json:"trees"`

	baseMargin float64
	width      int
}

// compile resolves split features and child links; names maps feature names to columns
func (e *Ensemble) compile(names map[string]int, width int) error {
	if len(e.Trees) == 0 {
		return fmt.Errorf("model has no trees")
	}
	if e.Objective == "" {
		e.Objective = "binary:logistic"
	}
	if e.Objective != "binary:logistic" && e.Objective != "reg:logistic" {
		return fmt.Errorf("unsupported objective %q", e.Objective)
	}
	if e.BaseScore == 0 {
		e.BaseScore = 0.5
	}
	if e.BaseScore <= 0 || e.BaseScore >= 1 {
		return fmt.Errorf("base_score %v outside (0,1)", e.BaseScore)
	}
	e.baseMargin = math.Log(e.BaseScore / (1 - e.BaseScore))
	e.width = width

	if len(e.FeatureNames) > 0 {
		names = make(map[string]int, len(e.FeatureNames))
		for i, n := range e.FeatureNames {
			names[n] = i
		}
	}
	for i, t := range e.Trees {
		if err := e.compileNode(t, names); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func (e *Ensemble) compileNode(n *Node, names map[string]int) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	if n.Leaf != nil {
		return nil
	}
	idx, err := featureIndex(n.Split, names)
	if err != nil {
		return err
	}
	if e.width > 0 && idx >= e.width {
		return fmt.Errorf("node %d splits on feature %d beyond width %d", n.NodeID, idx, e.width)
	}
	n.feature = idx

	byID := make(map[int]*Node, len(n.Children))
	for _, c := range n.Children {
		if c == nil {
			return fmt.Errorf("node %d has a nil child", n.NodeID)
		}
		byID[c.NodeID] = c
	}
	var ok bool
	if n.yes, ok = byID[n.Yes]; !ok {
		return fmt.Errorf("node %d: missing yes child %d", n.NodeID, n.Yes)
	}
	if n.no, ok = byID[n.No]; !ok {
		return fmt.Errorf("node %d: missing no child %d", n.NodeID, n.No)
	}
	if n.missing, ok = byID[n.Missing]; !ok {
		n.missing = n.yes
	}
	for _, c := range n.Children {
		if err := e.compileNode(c, names); err != nil {
			return err
		}
	}
	return nil
}

func featureIndex(split string, names map[string]int) (int, error) {
	if idx, ok := names[split]; ok {
		return idx, nil
	}
	if strings.HasPrefix(split, "f") {
		if idx, err := strconv.Atoi(split[1:]); err == nil && idx >= 0 {
			return idx, nil
		}
	}
	return 0, fmt.Errorf("unknown split feature %q", split)
}

// Margin sums the leaf values reached by row plus the base margin
func (e *Ensemble) Margin(row []float64) float64 {
	margin := e.baseMargin
	for _, t := range e.Trees {
		n := t
		for n.Leaf == nil {
			var x float64
			present := n.feature < len(row)
			if present {
				x = row[n.feature]
			}
			switch {
			case !present || math.IsNaN(x):
				n = n.missing
			case x < n.SplitCondition:
				n = n.yes
			default:
				n = n.no
			}
		}
		margin += *n.Leaf
	}
	return margin
}

// Predict returns the class label and the probability of class 1
func (e *Ensemble) Predict(row []float64) (int, float64) {
	p := 1 / (1 + math.Exp(-e.Margin(row)))
	if p > 0.5 {
		return 1, p
	}
	return 0, p
}
