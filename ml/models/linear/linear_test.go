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

package linear_test

import (
	"testing"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/gomachina/machina/ml/models/linear"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRidgeExactFit(t *testing.T) {
	// y = 2*a - b + 3, an exact linear relation OLS must recover.
	x, err := data.NewTable(
		[]string{"a", "b"},
		[][]float64{{1, 2, 3, 4, 5, 6}, {1, 0, 2, 1, 3, 0}})
	require.NoError(t, err)
	y := make([]float64, 6)
	for ii := 0; ii < 6; ii++ {
		y[ii] = 2*x.Column(0)[ii] - x.Column(1)[ii] + 3
	}

	mach := machine.Bind(linear.NewRidge(0), x, y)
	require.NoError(t, mach.Fit())

	fitAny, err := mach.Fitresult()
	require.NoError(t, err)
	fit := fitAny.(*linear.Weights)
	assert.InDelta(t, 2.0, fit.Coef[0], 1e-8)
	assert.InDelta(t, -1.0, fit.Coef[1], 1e-8)
	assert.InDelta(t, 3.0, fit.Intercept, 1e-8)

	xNew, err := data.NewTable([]string{"a", "b"}, [][]float64{{10}, {4}})
	require.NoError(t, err)
	preds, err := mach.Predict(xNew)
	require.NoError(t, err)
	assert.InDelta(t, 19.0, preds[0], 1e-8)
}

func TestRidgeShrinks(t *testing.T) {
	x, err := data.NewTable([]string{"a"}, [][]float64{{1, 2, 3, 4}})
	require.NoError(t, err)
	y := []float64{2, 4, 6, 8}

	ols := machine.Bind(linear.NewRidge(0), x, y)
	require.NoError(t, ols.Fit())
	ridge := machine.Bind(linear.NewRidge(100), x, y)
	require.NoError(t, ridge.Fit())

	olsFit, err := ols.Fitresult()
	require.NoError(t, err)
	ridgeFit, err := ridge.Fitresult()
	require.NoError(t, err)
	assert.Less(t,
		ridgeFit.(*linear.Weights).Coef[0],
		olsFit.(*linear.Weights).Coef[0],
		"the penalty must shrink the slope")
}

func TestRidgeColumnOrderIndependence(t *testing.T) {
	x, err := data.NewTable(
		[]string{"a", "b"},
		[][]float64{{1, 2, 3, 4}, {2, 0, 3, 1}})
	require.NoError(t, err)
	y := []float64{1, 2, 3, 4}
	mach := machine.Bind(linear.NewRidge(0), x, y)
	require.NoError(t, mach.Fit())

	// Prediction matches by column name, not position.
	swapped, err := data.NewTable(
		[]string{"b", "a"},
		[][]float64{{2, 0, 3, 1}, {1, 2, 3, 4}})
	require.NoError(t, err)
	preds, err := mach.Predict(swapped)
	require.NoError(t, err)
	orig, err := mach.Predict(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, orig, preds, 1e-9)
}
