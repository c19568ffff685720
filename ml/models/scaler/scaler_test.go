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

package scaler_test

import (
	"testing"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/gomachina/machina/ml/models/scaler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardizer(t *testing.T) {
	x, err := data.NewTable(
		[]string{"a", "const"},
		[][]float64{{1, 2, 3, 4}, {7, 7, 7, 7}})
	require.NoError(t, err)

	mach := machine.New(scaler.NewStandardizer(), machine.NewSource(x))
	require.NoError(t, mach.Fit())

	out, err := mach.TransformTable(x)
	require.NoError(t, err)
	col := out.Column(0)
	var sum float64
	for _, v := range col {
		sum += v
	}
	assert.InDelta(t, 0.0, sum, 1e-9, "standardized column must be centered")

	// A constant column is centered but not scaled.
	assert.Equal(t, []float64{0, 0, 0, 0}, out.Column(1))
}

func TestStandardizerNewData(t *testing.T) {
	x, err := data.NewTable([]string{"a"}, [][]float64{{0, 2}})
	require.NoError(t, err)
	mach := machine.New(scaler.NewStandardizer(), machine.NewSource(x))
	require.NoError(t, mach.Fit())

	// mean=1, std=1: fresh values are shifted by -1.
	xNew, err := data.NewTable([]string{"a"}, [][]float64{{3}})
	require.NoError(t, err)
	out, err := mach.TransformTable(xNew)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out.Column(0)[0], 1e-9)

	wrong, err := data.NewTable([]string{"z"}, [][]float64{{1}})
	require.NoError(t, err)
	_, err = mach.TransformTable(wrong)
	assert.Error(t, err)
}
