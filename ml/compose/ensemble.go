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
	"math/rand"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&Ensemble{})
	gob.Register(&EnsembleFit{})
}

// Ensemble is a bagging wrapper: Size copies of Base are trained on
// bootstrap resamples of the data and their predictions averaged.
//
// Unlike Stack or Pipeline, an Ensemble is not graph-shaped: its fitresult
// is a plain list of trained member machines (EnsembleFit), which the
// persistence layer sanitizes member by member.
type Ensemble struct {
	Base machine.Learner
	Size int

	// SampleFraction of rows drawn (with replacement) per member.
	// Zero means 1.0.
	SampleFraction float64

	// Seed for the resampling; same seed, same members.
	Seed int64
}

// TypeName implements machine.Model.
func (e *Ensemble) TypeName() string { return "compose.ensemble" }

// EnsembleFit is the fitresult of an Ensemble: the trained member machines.
type EnsembleFit struct {
	Machines []*machine.Machine
}

// SubMachines implements machine.SubMachiner.
func (f *EnsembleFit) SubMachines() []*machine.Machine { return f.Machines }

// WithSubMachines implements machine.SubMachiner.
func (f *EnsembleFit) WithSubMachines(machines []*machine.Machine) any {
	return &EnsembleFit{Machines: machines}
}

// Fit implements machine.Learner.
func (e *Ensemble) Fit(x *data.Table, y []float64) (any, any, map[string]any, error) {
	if e.Base == nil {
		return nil, nil, nil, errors.Errorf("ensemble has no base learner")
	}
	size := e.Size
	if size <= 0 {
		size = 10
	}
	frac := e.SampleFraction
	if frac <= 0 || frac > 1 {
		frac = 1.0
	}
	numRows := x.NumRows()
	sampleRows := int(frac * float64(numRows))
	if sampleRows < 1 {
		sampleRows = 1
	}

	rng := rand.New(rand.NewSource(e.Seed))
	members := make([]*machine.Machine, size)
	for ii := range members {
		rows := make([]int, sampleRows)
		for jj := range rows {
			rows[jj] = rng.Intn(numRows)
		}
		xb := x.SelectRows(rows)
		yb := make([]float64, sampleRows)
		for jj, r := range rows {
			yb[jj] = y[r]
		}
		member := machine.Bind(e.Base, xb, yb)
		member.SetResampled(xb)
		if err := member.Fit(); err != nil {
			return nil, nil, nil, errors.Wrapf(err, "failed to fit ensemble member #%d", ii)
		}
		members[ii] = member
	}

	report := map[string]any{
		"base_model":  e.Base.TypeName(),
		"size":        size,
		"sample_rows": sampleRows,
	}
	return &EnsembleFit{Machines: members}, nil, report, nil
}

// Predict implements machine.Learner: the mean of the member predictions.
func (e *Ensemble) Predict(fitresult any, x *data.Table) ([]float64, error) {
	fit, ok := fitresult.(*EnsembleFit)
	if !ok {
		return nil, errors.Errorf("ensemble fitresult is %T, expected *EnsembleFit", fitresult)
	}
	if len(fit.Machines) == 0 {
		return nil, errors.Errorf("ensemble fitresult has no members")
	}
	sum := make([]float64, x.NumRows())
	for ii, member := range fit.Machines {
		preds, err := member.Predict(x)
		if err != nil {
			return nil, errors.Wrapf(err, "ensemble member #%d failed to predict", ii)
		}
		for jj, p := range preds {
			sum[jj] += p
		}
	}
	scale := 1.0 / float64(len(fit.Machines))
	for jj := range sum {
		sum[jj] *= scale
	}
	return sum, nil
}
