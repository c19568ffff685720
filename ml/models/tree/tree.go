/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package tree implements a regression decision tree (CART-style, squared
// error splitting). Its fitted state is a plain Go value and persists
// natively, with no custom save/restore hook.
package tree

import (
	"encoding/gob"
	"math"
	"sort"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/persist"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&Regressor{})
	gob.Register(&Tree{})
	persist.RegisterModel(&Regressor{})
	persist.RegisterFitresult(&Tree{})
}

// Regressor is a regression decision tree model handle.
type Regressor struct {
	// MaxDepth of the tree. Zero means 5.
	MaxDepth int `msgpack:"max_depth"`

	// MinLeaf is the minimum number of samples per leaf. Zero means 1.
	MinLeaf int `msgpack:"min_leaf"`
}

// NewRegressor creates a Regressor with default hyperparameters.
func NewRegressor() *Regressor {
	return &Regressor{MaxDepth: 5, MinLeaf: 1}
}

// TypeName implements machine.Model.
func (r *Regressor) TypeName() string { return "tree.regressor" }

// TreeNode is one node of a fitted tree, stored in an arena. Leaves carry
// the predicted value; internal nodes carry the split and the arena indices
// of their children.
type TreeNode struct {
	Leaf      bool    `msgpack:"leaf"`
	Value     float64 `msgpack:"value"`
	Feature   int     `msgpack:"feature"`
	Threshold float64 `msgpack:"threshold"`
	Left      int32   `msgpack:"left"`
	Right     int32   `msgpack:"right"`
}

// Tree is the fitresult of a Regressor.
type Tree struct {
	Features []string   `msgpack:"features"`
	Nodes    []TreeNode `msgpack:"nodes"`
}

// Fit implements machine.Learner.
func (r *Regressor) Fit(x *data.Table, y []float64) (any, any, map[string]any, error) {
	if x.NumRows() == 0 {
		return nil, nil, nil, errors.Errorf("tree.Regressor: cannot fit on an empty table")
	}
	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	minLeaf := r.MinLeaf
	if minLeaf <= 0 {
		minLeaf = 1
	}

	rows := make([]int, x.NumRows())
	for ii := range rows {
		rows[ii] = ii
	}
	fit := &Tree{Features: append([]string(nil), x.Names()...)}
	b := &builder{x: x, y: y, maxDepth: maxDepth, minLeaf: minLeaf, fit: fit}
	b.grow(rows, 0)

	report := map[string]any{
		"features": fit.Features,
		"n_nodes":  len(fit.Nodes),
	}
	return fit, nil, report, nil
}

type builder struct {
	x        *data.Table
	y        []float64
	maxDepth int
	minLeaf  int
	fit      *Tree
}

// grow builds the subtree over the given rows and returns its arena index.
func (b *builder) grow(rows []int, depth int) int32 {
	idx := int32(len(b.fit.Nodes))
	b.fit.Nodes = append(b.fit.Nodes, TreeNode{})

	mean := meanOf(b.y, rows)
	if depth >= b.maxDepth || len(rows) < 2*b.minLeaf || isConstant(b.y, rows) {
		b.fit.Nodes[idx] = TreeNode{Leaf: true, Value: mean}
		return idx
	}

	feature, threshold, found := b.bestSplit(rows)
	if !found {
		b.fit.Nodes[idx] = TreeNode{Leaf: true, Value: mean}
		return idx
	}

	col := b.x.Column(feature)
	var left, right []int
	for _, row := range rows {
		if col[row] <= threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	leftIdx := b.grow(left, depth+1)
	rightIdx := b.grow(right, depth+1)
	b.fit.Nodes[idx] = TreeNode{Feature: feature, Threshold: threshold, Left: leftIdx, Right: rightIdx}
	return idx
}

// bestSplit searches every feature and candidate threshold (midpoints of
// consecutive distinct values) for the split minimizing total squared error.
func (b *builder) bestSplit(rows []int) (feature int, threshold float64, found bool) {
	bestSSE := math.Inf(1)
	for jj := 0; jj < b.x.NumCols(); jj++ {
		col := b.x.Column(jj)
		values := make([]float64, 0, len(rows))
		for _, row := range rows {
			values = append(values, col[row])
		}
		sort.Float64s(values)
		for ii := 1; ii < len(values); ii++ {
			if values[ii] == values[ii-1] {
				continue
			}
			t := (values[ii] + values[ii-1]) / 2
			sse, nLeft, nRight := b.splitSSE(rows, col, t)
			if nLeft < b.minLeaf || nRight < b.minLeaf {
				continue
			}
			if sse < bestSSE {
				bestSSE, feature, threshold, found = sse, jj, t, true
			}
		}
	}
	return
}

// splitSSE computes the summed squared error of the two sides of a split.
func (b *builder) splitSSE(rows []int, col []float64, threshold float64) (sse float64, nLeft, nRight int) {
	var sumL, sumR, sqL, sqR float64
	for _, row := range rows {
		v := b.y[row]
		if col[row] <= threshold {
			nLeft++
			sumL += v
			sqL += v * v
		} else {
			nRight++
			sumR += v
			sqR += v * v
		}
	}
	if nLeft > 0 {
		sse += sqL - sumL*sumL/float64(nLeft)
	}
	if nRight > 0 {
		sse += sqR - sumR*sumR/float64(nRight)
	}
	return
}

func meanOf(y []float64, rows []int) float64 {
	var sum float64
	for _, row := range rows {
		sum += y[row]
	}
	return sum / float64(len(rows))
}

func isConstant(y []float64, rows []int) bool {
	for _, row := range rows[1:] {
		if y[row] != y[rows[0]] {
			return false
		}
	}
	return true
}

// Predict implements machine.Learner.
func (r *Regressor) Predict(fitresult any, x *data.Table) ([]float64, error) {
	fit, ok := fitresult.(*Tree)
	if !ok {
		return nil, errors.Errorf("tree.Regressor fitresult is %T, expected *tree.Tree", fitresult)
	}
	if len(fit.Nodes) == 0 {
		return nil, errors.Errorf("tree.Regressor fitresult has no nodes")
	}
	if err := x.CheckColumns(fit.Features); err != nil {
		return nil, err
	}
	cols := make([][]float64, len(fit.Features))
	for jj, name := range fit.Features {
		col, err := x.Col(name)
		if err != nil {
			return nil, err
		}
		cols[jj] = col
	}
	preds := make([]float64, x.NumRows())
	for ii := range preds {
		idx := int32(0)
		for {
			node := fit.Nodes[idx]
			if node.Leaf {
				preds[ii] = node.Value
				break
			}
			if cols[node.Feature][ii] <= node.Threshold {
				idx = node.Left
			} else {
				idx = node.Right
			}
		}
	}
	return preds, nil
}
