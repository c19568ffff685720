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

package compose

import (
	"encoding/gob"
	"math"
	"math/rand"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&TunedModel{})
	gob.Register(&TunedFit{})
	gob.Register([]Trial{})
}

// TunedModel is a model-selection wrapper: it evaluates candidate
// configurations on a holdout split and retrains the best one on the full
// data. The fitresult is the winning trained machine (TunedFit).
//
// The trial history is kept in the machine's cache (not under the
// training-data key, so it survives sanitization) and in the report.
type TunedModel struct {
	Candidates []machine.Learner

	// Holdout fraction of rows used for evaluation. Zero means 0.25.
	Holdout float64

	// Seed for the train/holdout shuffle.
	Seed int64
}

// TypeName implements machine.Model.
func (t *TunedModel) TypeName() string { return "compose.tuned" }

// Trial records one candidate evaluation.
type Trial struct {
	Model string
	RMSE  float64
}

// TunedFit is the fitresult of a TunedModel: the best candidate, retrained
// on all the data.
type TunedFit struct {
	Best *machine.Machine
}

// SubMachines implements machine.SubMachiner.
func (f *TunedFit) SubMachines() []*machine.Machine {
	return []*machine.Machine{f.Best}
}

// WithSubMachines implements machine.SubMachiner.
func (f *TunedFit) WithSubMachines(machines []*machine.Machine) any {
	if len(machines) != 1 {
		return nil
	}
	return &TunedFit{Best: machines[0]}
}

// Fit implements machine.Learner.
func (t *TunedModel) Fit(x *data.Table, y []float64) (any, any, map[string]any, error) {
	if len(t.Candidates) == 0 {
		return nil, nil, nil, errors.Errorf("tuned model has no candidates")
	}
	holdout := t.Holdout
	if holdout <= 0 || holdout >= 1 {
		holdout = 0.25
	}
	numRows := x.NumRows()
	numHoldout := int(holdout * float64(numRows))
	if numHoldout < 1 {
		numHoldout = 1
	}
	if numHoldout >= numRows {
		return nil, nil, nil, errors.Errorf("holdout fraction %g leaves no training rows (of %d)", holdout, numRows)
	}

	perm := rand.New(rand.NewSource(t.Seed)).Perm(numRows)
	trainRows, holdRows := perm[numHoldout:], perm[:numHoldout]
	xTrain, xHold := x.SelectRows(trainRows), x.SelectRows(holdRows)
	yTrain := make([]float64, len(trainRows))
	for ii, r := range trainRows {
		yTrain[ii] = y[r]
	}
	yHold := make([]float64, len(holdRows))
	for ii, r := range holdRows {
		yHold[ii] = y[r]
	}

	trials := make([]Trial, len(t.Candidates))
	bestIdx, bestRMSE := -1, math.Inf(1)
	for ii, candidate := range t.Candidates {
		cm := machine.Bind(candidate, xTrain, yTrain)
		cm.SetCaching(false)
		if err := cm.Fit(); err != nil {
			return nil, nil, nil, errors.Wrapf(err, "failed to fit candidate #%d (%s)", ii, candidate.TypeName())
		}
		preds, err := cm.Predict(xHold)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "failed to evaluate candidate #%d (%s)", ii, candidate.TypeName())
		}
		var sse float64
		for jj, p := range preds {
			d := p - yHold[jj]
			sse += d * d
		}
		rmse := math.Sqrt(sse / float64(len(preds)))
		trials[ii] = Trial{Model: candidate.TypeName(), RMSE: rmse}
		if rmse < bestRMSE {
			bestIdx, bestRMSE = ii, rmse
		}
	}

	best := machine.Bind(t.Candidates[bestIdx], x, y)
	if err := best.Fit(); err != nil {
		return nil, nil, nil, errors.Wrapf(err, "failed to retrain best candidate (%s)", t.Candidates[bestIdx].TypeName())
	}

	cache := map[string]any{"trials": trials}
	report := map[string]any{
		"best_model": t.Candidates[bestIdx].TypeName(),
		"best_rmse":  bestRMSE,
		"trials":     trials,
	}
	return &TunedFit{Best: best}, cache, report, nil
}

// Predict implements machine.Learner: delegates to the winning machine.
func (t *TunedModel) Predict(fitresult any, x *data.Table) ([]float64, error) {
	fit, ok := fitresult.(*TunedFit)
	if !ok {
		return nil, errors.Errorf("tuned fitresult is %T, expected *TunedFit", fitresult)
	}
	if fit.Best == nil {
		return nil, errors.Errorf("tuned fitresult has no best machine")
	}
	return fit.Best.Predict(x)
}
