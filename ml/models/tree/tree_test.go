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

package tree_test

import (
	"testing"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/gomachina/machina/ml/models/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegressorFitPredict(t *testing.T) {
	// Target is a step function of column "a": a <= 3 -> 1, else 10.
	x, err := data.NewTable(
		[]string{"a", "b"},
		[][]float64{{1, 2, 3, 4, 5, 6}, {0, 0, 0, 0, 0, 0}})
	require.NoError(t, err)
	y := []float64{1, 1, 1, 10, 10, 10}

	mach := machine.Bind(tree.NewRegressor(), x, y)
	require.NoError(t, mach.Fit())

	preds, err := mach.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 10, 10, 10}, preds)

	// Interior points fall on the right side of the split.
	xNew, err := data.NewTable([]string{"a", "b"}, [][]float64{{2.5, 5.5}, {0, 0}})
	require.NoError(t, err)
	preds, err = mach.Predict(xNew)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 10}, preds)
}

func TestRegressorDepthLimit(t *testing.T) {
	x, err := data.NewTable([]string{"a"}, [][]float64{{1, 2, 3, 4}})
	require.NoError(t, err)
	y := []float64{1, 2, 3, 4}

	mach := machine.Bind(&tree.Regressor{MaxDepth: 1, MinLeaf: 1}, x, y)
	require.NoError(t, mach.Fit())
	preds, err := mach.Predict(x)
	require.NoError(t, err)
	// One split only: two leaves, each the mean of its side.
	assert.Equal(t, preds[0], preds[1])
	assert.Equal(t, preds[2], preds[3])
	assert.NotEqual(t, preds[0], preds[3])
}

func TestRegressorColumnMismatch(t *testing.T) {
	x, err := data.NewTable([]string{"a"}, [][]float64{{1, 2, 3, 4}})
	require.NoError(t, err)
	mach := machine.Bind(tree.NewRegressor(), x, []float64{1, 2, 3, 4})
	require.NoError(t, mach.Fit())

	wrong, err := data.NewTable([]string{"z"}, [][]float64{{1}})
	require.NoError(t, err)
	_, err = mach.Predict(wrong)
	assert.Error(t, err)
}
