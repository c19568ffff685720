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

// Package linear implements a ridge regressor solved with normal equations
// (gonum). Pure in-memory fitted state, no custom save/restore hook.
package linear

import (
	"encoding/gob"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/persist"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func init() {
	gob.Register(&Ridge{})
	gob.Register(&Weights{})
	persist.RegisterModel(&Ridge{})
	persist.RegisterFitresult(&Weights{})
}

// Ridge is an L2-regularized linear regression model handle.
type Ridge struct {
	// Alpha is the L2 penalty. Zero alpha is ordinary least squares.
	Alpha float64 `msgpack:"alpha"`
}

// NewRidge creates a Ridge with the given penalty.
func NewRidge(alpha float64) *Ridge {
	return &Ridge{Alpha: alpha}
}

// TypeName implements machine.Model.
func (r *Ridge) TypeName() string { return "linear.ridge" }

// Weights is the fitresult of a Ridge.
type Weights struct {
	Features  []string  `msgpack:"features"`
	Coef      []float64 `msgpack:"coef"`
	Intercept float64   `msgpack:"intercept"`
}

// Fit implements machine.Learner: solves (AᵀA + αI)θ = Aᵀy where A is the
// design matrix with an appended intercept column (the intercept is not
// penalized).
func (r *Ridge) Fit(x *data.Table, y []float64) (any, any, map[string]any, error) {
	numRows, numFeatures := x.NumRows(), x.NumCols()
	if numRows == 0 {
		return nil, nil, nil, errors.Errorf("linear.Ridge: cannot fit on an empty table")
	}

	a := mat.NewDense(numRows, numFeatures+1, nil)
	for jj := 0; jj < numFeatures; jj++ {
		col := x.Column(jj)
		for ii := 0; ii < numRows; ii++ {
			a.Set(ii, jj, col[ii])
		}
	}
	for ii := 0; ii < numRows; ii++ {
		a.Set(ii, numFeatures, 1)
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	for jj := 0; jj < numFeatures; jj++ {
		ata.Set(jj, jj, ata.At(jj, jj)+r.Alpha)
	}
	yv := mat.NewVecDense(numRows, y)
	var aty mat.VecDense
	aty.MulVec(a.T(), yv)

	var theta mat.VecDense
	if err := theta.SolveVec(&ata, &aty); err != nil {
		return nil, nil, nil, errors.Wrapf(err, "linear.Ridge: normal equations are singular")
	}

	fit := &Weights{
		Features:  append([]string(nil), x.Names()...),
		Coef:      make([]float64, numFeatures),
		Intercept: theta.AtVec(numFeatures),
	}
	for jj := range fit.Coef {
		fit.Coef[jj] = theta.AtVec(jj)
	}
	report := map[string]any{"features": fit.Features}
	return fit, nil, report, nil
}

// Predict implements machine.Learner.
func (r *Ridge) Predict(fitresult any, x *data.Table) ([]float64, error) {
	fit, ok := fitresult.(*Weights)
	if !ok {
		return nil, errors.Errorf("linear.Ridge fitresult is %T, expected *linear.Weights", fitresult)
	}
	if err := x.CheckColumns(fit.Features); err != nil {
		return nil, err
	}
	preds := make([]float64, x.NumRows())
	for jj, name := range fit.Features {
		col, err := x.Col(name)
		if err != nil {
			return nil, err
		}
		for ii := range preds {
			preds[ii] += fit.Coef[jj] * col[ii]
		}
	}
	for ii := range preds {
		preds[ii] += fit.Intercept
	}
	return preds, nil
}
