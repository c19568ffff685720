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

// Package stumps implements gradient-boosted decision stumps whose fitted
// state is an opaque Handle, the way models backed by a native C library
// expose theirs. A Handle cannot travel through a generic codec: the model
// implements the save/restore hook pair, writing its state to a side file
// in its own binary format ("<stem>.stumps.booster.model") and leaving a
// lightweight file reference in the main envelope.
package stumps

import (
	"encoding/gob"
	"math"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/gomachina/machina/ml/persist"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&Booster{})
	gob.Register(&SavedModel{})
	persist.RegisterModel(&Booster{})
	persist.RegisterFitresult(&SavedModel{})
}

// Booster is the boosted-stumps model handle.
type Booster struct {
	// Rounds of boosting. Zero means 20.
	Rounds int `msgpack:"rounds"`

	// LearningRate shrinks each stump's contribution. Zero means 0.3.
	LearningRate float64 `msgpack:"learning_rate"`
}

// NewBooster creates a Booster with default hyperparameters.
func NewBooster() *Booster {
	return &Booster{Rounds: 20, LearningRate: 0.3}
}

// TypeName implements machine.Model.
func (b *Booster) TypeName() string { return "stumps.booster" }

// Handle is an opaque reference to fitted booster state. It deliberately
// does not serialize: persisting a trained Booster goes through the model's
// save hook, which writes a side file and returns a SavedModel marker.
type Handle struct {
	model *boosterModel
}

// GobEncode implements gob.GobEncoder by refusing: the handle is opaque.
func (h *Handle) GobEncode() ([]byte, error) {
	return nil, errors.Errorf("stumps: opaque fitted state cannot be serialized directly, it requires the model's save hook")
}

// GobDecode implements gob.GobDecoder by refusing, see GobEncode.
func (h *Handle) GobDecode([]byte) error {
	return errors.Errorf("stumps: opaque fitted state cannot be deserialized directly, it requires the model's restore hook")
}

// boosterModel is the native state behind a Handle.
type boosterModel struct {
	features []string
	base     float64
	stumps   []stump
}

type stump struct {
	feature   int32
	threshold float64
	left      float64
	right     float64
}

// Fit implements machine.Learner: greedy gradient boosting on residuals,
// one depth-1 tree (stump) per round.
func (b *Booster) Fit(x *data.Table, y []float64) (any, any, map[string]any, error) {
	numRows := x.NumRows()
	if numRows == 0 {
		return nil, nil, nil, errors.Errorf("stumps.Booster: cannot fit on an empty table")
	}
	rounds := b.Rounds
	if rounds <= 0 {
		rounds = 20
	}
	rate := b.LearningRate
	if rate <= 0 {
		rate = 0.3
	}

	var base float64
	for _, v := range y {
		base += v
	}
	base /= float64(numRows)

	preds := make([]float64, numRows)
	for ii := range preds {
		preds[ii] = base
	}
	residual := make([]float64, numRows)

	model := &boosterModel{
		features: append([]string(nil), x.Names()...),
		base:     base,
	}
	for round := 0; round < rounds; round++ {
		for ii := range residual {
			residual[ii] = y[ii] - preds[ii]
		}
		s, found := bestStump(x, residual)
		if !found {
			break
		}
		s.left *= rate
		s.right *= rate
		model.stumps = append(model.stumps, s)
		col := x.Column(int(s.feature))
		for ii := range preds {
			if col[ii] <= s.threshold {
				preds[ii] += s.left
			} else {
				preds[ii] += s.right
			}
		}
	}

	report := map[string]any{
		"features": model.features,
		"n_stumps": len(model.stumps),
	}
	return &Handle{model: model}, nil, report, nil
}

// bestStump finds the single split minimizing squared error of the
// residuals, with the two leaves set to the side means.
func bestStump(x *data.Table, residual []float64) (best stump, found bool) {
	bestSSE := math.Inf(1)
	for jj := 0; jj < x.NumCols(); jj++ {
		col := x.Column(jj)
		for ii := range col {
			t := col[ii]
			var sumL, sumR, sqL, sqR float64
			var nL, nR int
			for kk, v := range col {
				r := residual[kk]
				if v <= t {
					nL++
					sumL += r
					sqL += r * r
				} else {
					nR++
					sumR += r
					sqR += r * r
				}
			}
			if nL == 0 || nR == 0 {
				continue
			}
			sse := (sqL - sumL*sumL/float64(nL)) + (sqR - sumR*sumR/float64(nR))
			if sse < bestSSE {
				bestSSE = sse
				best = stump{
					feature:   int32(jj),
					threshold: t,
					left:      sumL / float64(nL),
					right:     sumR / float64(nR),
				}
				found = true
			}
		}
	}
	return
}

// Predict implements machine.Learner.
func (b *Booster) Predict(fitresult any, x *data.Table) ([]float64, error) {
	handle, ok := fitresult.(*Handle)
	if !ok {
		return nil, errors.Errorf("stumps.Booster fitresult is %T, expected *stumps.Handle -- "+
			"a machine loaded from storage must be restored first", fitresult)
	}
	if handle.model == nil {
		return nil, errors.Errorf("stumps.Booster handle is empty (not trained or not restored)")
	}
	model := handle.model
	if err := x.CheckColumns(model.features); err != nil {
		return nil, err
	}
	cols := make([][]float64, len(model.features))
	for jj, name := range model.features {
		col, err := x.Col(name)
		if err != nil {
			return nil, err
		}
		cols[jj] = col
	}
	preds := make([]float64, x.NumRows())
	for ii := range preds {
		p := model.base
		for _, s := range model.stumps {
			if cols[s.feature][ii] <= s.threshold {
				p += s.left
			} else {
				p += s.right
			}
		}
		preds[ii] = p
	}
	return preds, nil
}

var _ machine.Learner = (*Booster)(nil)
var _ machine.FitresultSaver = (*Booster)(nil)
