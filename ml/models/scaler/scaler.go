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

// Package scaler implements a standardizing transformer: columns are
// shifted to zero mean and scaled to unit variance.
package scaler

import (
	"encoding/gob"
	"math"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/persist"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&Standardizer{})
	gob.Register(&Moments{})
	persist.RegisterModel(&Standardizer{})
	persist.RegisterFitresult(&Moments{})
}

// Standardizer is the standardization transformer model handle. It has no
// hyperparameters.
type Standardizer struct{}

// NewStandardizer creates a Standardizer.
func NewStandardizer() *Standardizer { return &Standardizer{} }

// TypeName implements machine.Model.
func (s *Standardizer) TypeName() string { return "scaler.standardizer" }

// Moments is the fitresult of a Standardizer: per-column mean and standard
// deviation.
type Moments struct {
	Features []string  `msgpack:"features"`
	Mean     []float64 `msgpack:"mean"`
	Std      []float64 `msgpack:"std"`
}

// Fit implements machine.Transformer.
func (s *Standardizer) Fit(x *data.Table) (any, any, map[string]any, error) {
	numRows := x.NumRows()
	if numRows == 0 {
		return nil, nil, nil, errors.Errorf("scaler.Standardizer: cannot fit on an empty table")
	}
	fit := &Moments{
		Features: append([]string(nil), x.Names()...),
		Mean:     make([]float64, x.NumCols()),
		Std:      make([]float64, x.NumCols()),
	}
	for jj := 0; jj < x.NumCols(); jj++ {
		col := x.Column(jj)
		var sum float64
		for _, v := range col {
			sum += v
		}
		mean := sum / float64(numRows)
		var sq float64
		for _, v := range col {
			sq += (v - mean) * (v - mean)
		}
		std := math.Sqrt(sq / float64(numRows))
		if std == 0 {
			// Constant column: leave it centered, unscaled.
			std = 1
		}
		fit.Mean[jj] = mean
		fit.Std[jj] = std
	}
	report := map[string]any{"features": fit.Features}
	return fit, nil, report, nil
}

// Transform implements machine.Transformer.
func (s *Standardizer) Transform(fitresult any, x *data.Table) (*data.Table, error) {
	fit, ok := fitresult.(*Moments)
	if !ok {
		return nil, errors.Errorf("scaler.Standardizer fitresult is %T, expected *scaler.Moments", fitresult)
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
		out := make([]float64, len(col))
		for ii, v := range col {
			out[ii] = (v - fit.Mean[jj]) / fit.Std[jj]
		}
		cols[jj] = out
	}
	return data.NewTable(append([]string(nil), fit.Features...), cols)
}
