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

package stumps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newXY(t *testing.T) (*data.Table, []float64) {
	x, err := data.NewTable(
		[]string{"a", "b"},
		[][]float64{{1, 2, 3, 4, 5, 6}, {6, 5, 4, 3, 2, 1}})
	require.NoError(t, err)
	return x, []float64{1, 1, 1, 10, 10, 10}
}

func TestBoosterFitPredict(t *testing.T) {
	x, y := newXY(t)
	mach := machine.Bind(&Booster{Rounds: 50, LearningRate: 0.5}, x, y)
	require.NoError(t, mach.Fit())

	preds, err := mach.Predict(x)
	require.NoError(t, err)
	for ii, p := range preds {
		assert.InDelta(t, y[ii], p, 0.5, "boosting must fit the step function closely")
	}
	assert.Greater(t, mach.Report()["n_stumps"], 0)
}

func TestHandleRefusesDirectSerialization(t *testing.T) {
	h := &Handle{}
	_, err := h.GobEncode()
	assert.Error(t, err)
	assert.Error(t, h.GobDecode(nil))
}

func TestSaveRestoreFitresult(t *testing.T) {
	x, y := newXY(t)
	model := &Booster{Rounds: 30}
	mach := machine.Bind(model, x, y)
	require.NoError(t, mach.Fit())
	fitresult, err := mach.Fitresult()
	require.NoError(t, err)

	stem := filepath.Join(t.TempDir(), "model")
	persisted, err := model.SaveFitresult(fitresult, stem, nil)
	require.NoError(t, err)
	saved, ok := persisted.(*SavedModel)
	require.True(t, ok)
	assert.Equal(t, "model.stumps.booster.model", saved.File)
	assert.NotEmpty(t, saved.SHA256)
	_, err = os.Stat(stem + sideFileSuffix)
	require.NoError(t, err, "the side file must exist")

	restored, err := model.RestoreFitresult(saved, stem)
	require.NoError(t, err)
	origPreds, err := model.Predict(fitresult, x)
	require.NoError(t, err)
	newPreds, err := model.Predict(restored, x)
	require.NoError(t, err)
	assert.Equal(t, origPreds, newPreds)
}

func TestRestoreDetectsCorruption(t *testing.T) {
	x, y := newXY(t)
	model := NewBooster()
	mach := machine.Bind(model, x, y)
	require.NoError(t, mach.Fit())
	fitresult, err := mach.Fitresult()
	require.NoError(t, err)

	stem := filepath.Join(t.TempDir(), "model")
	persisted, err := model.SaveFitresult(fitresult, stem, nil)
	require.NoError(t, err)

	path := stem + sideFileSuffix
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, err = model.RestoreFitresult(persisted, stem)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestPredictOnPersistedMarkerFails(t *testing.T) {
	x, _ := newXY(t)
	model := NewBooster()
	_, err := model.Predict(&SavedModel{File: "whatever"}, x)
	require.Error(t, err, "the marker must be restored before prediction")
}
