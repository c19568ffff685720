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

package machine_test

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// meanModel predicts the mean of the training target, a minimal Learner
// for lifecycle tests.
type meanModel struct {
	Offset float64
}

func init() {
	gob.Register(&meanModel{})
	gob.Register(&meanFit{})
	gob.Register(map[string]any{})
}

type meanFit struct {
	Mean float64
}

func (m *meanModel) TypeName() string { return "test.mean" }

func (m *meanModel) Fit(x *data.Table, y []float64) (any, any, map[string]any, error) {
	if len(y) == 0 {
		return nil, nil, nil, errors.Errorf("no target values")
	}
	var sum float64
	for _, v := range y {
		sum += v
	}
	fit := &meanFit{Mean: sum/float64(len(y)) + m.Offset}
	return fit, map[string]any{"extra": "kept"}, map[string]any{"n": len(y)}, nil
}

func (m *meanModel) Predict(fitresult any, x *data.Table) ([]float64, error) {
	fit, ok := fitresult.(*meanFit)
	if !ok {
		return nil, errors.Errorf("fitresult is %T, expected *meanFit", fitresult)
	}
	preds := make([]float64, x.NumRows())
	for ii := range preds {
		preds[ii] = fit.Mean
	}
	return preds, nil
}

func newXY(t *testing.T) (*data.Table, []float64) {
	x, err := data.NewTable(
		[]string{"a", "b"},
		[][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}})
	require.NoError(t, err)
	return x, []float64{1, 2, 3, 6}
}

func TestMachineLifecycle(t *testing.T) {
	x, y := newXY(t)
	mach := machine.Bind(&meanModel{}, x, y)

	// Untrained machine: fitresult undefined, predict fails.
	assert.False(t, mach.IsTrained())
	assert.Equal(t, 0, mach.State())
	_, err := mach.Fitresult()
	assert.ErrorIs(t, err, machine.ErrNotTrained)
	_, err = mach.Predict(x)
	assert.ErrorIs(t, err, machine.ErrNotTrained)

	require.NoError(t, mach.Fit())
	assert.True(t, mach.IsTrained())
	assert.Equal(t, 1, mach.State())
	assert.Equal(t, 4, mach.Report()["n"])

	preds, err := mach.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3, 3, 3}, preds)

	// The training data is cached under the "data" key, model cache entries
	// are merged beside it.
	cache, ok := mach.Cache().(map[string]any)
	require.True(t, ok)
	assert.Contains(t, cache, "data")
	assert.Equal(t, "kept", cache["extra"])

	// Refitting bumps the state counter.
	require.NoError(t, mach.Fit())
	assert.Equal(t, 2, mach.State())
}

func TestMachineCachingDisabled(t *testing.T) {
	x, y := newXY(t)
	mach := machine.Bind(&meanModel{}, x, y)
	mach.SetCaching(false)
	require.NoError(t, mach.Fit())
	cache, ok := mach.Cache().(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, cache, "data")
	assert.Equal(t, "kept", cache["extra"])
}

func TestMachineFrozen(t *testing.T) {
	x, y := newXY(t)
	mach := machine.Bind(&meanModel{}, x, y)
	mach.Freeze()
	require.NoError(t, mach.Fit())
	assert.False(t, mach.IsTrained(), "frozen machine must not train")
	mach.Thaw()
	require.NoError(t, mach.Fit())
	assert.True(t, mach.IsTrained())
}

func TestMachineUnboundSources(t *testing.T) {
	mach := machine.New(&meanModel{}, machine.EmptySources(2)...)
	err := mach.Fit()
	require.Error(t, err)
	assert.ErrorIs(t, err, machine.ErrUnboundSource)

	// Same after marking it trained out-of-band: prediction on the bound
	// sources still needs data.
	mach.SetFitresult(&meanFit{Mean: 1})
	_, err = mach.PredictBound()
	assert.ErrorIs(t, err, machine.ErrUnboundSource)
}

func TestMachineGobRoundTrip(t *testing.T) {
	x, y := newXY(t)
	mach := machine.Bind(&meanModel{Offset: 0.5}, x, y)
	mach.SetCaching(false)
	require.NoError(t, mach.Fit())

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(mach))
	decoded := &machine.Machine{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(decoded))

	assert.Equal(t, "test.mean", decoded.Model().TypeName())
	assert.True(t, decoded.IsTrained())
	assert.Len(t, decoded.Args(), 2)
	for _, src := range decoded.Args() {
		assert.False(t, src.IsBound(), "decoded sources must be empty placeholders")
	}
	preds, err := decoded.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5, 3.5, 3.5, 3.5}, preds)
}

func TestSource(t *testing.T) {
	s := machine.NewEmptySource()
	assert.False(t, s.IsBound())
	_, err := s.SourceValue()
	assert.ErrorIs(t, err, machine.ErrUnboundSource)

	s.Bind(42)
	require.True(t, s.IsBound())
	v, err := s.SourceValue()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	s.Clear()
	assert.False(t, s.IsBound())
}

func TestAsVector(t *testing.T) {
	v, err := machine.AsVector([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, v)

	oneCol, err := data.NewTable([]string{"y"}, [][]float64{{3, 4}})
	require.NoError(t, err)
	v, err = machine.AsVector(oneCol)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, v)

	twoCols, err := data.NewTable([]string{"a", "b"}, [][]float64{{1}, {2}})
	require.NoError(t, err)
	_, err = machine.AsVector(twoCols)
	assert.Error(t, err)
	_, err = machine.AsVector("nope")
	assert.Error(t, err)
}
