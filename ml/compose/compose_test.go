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

package compose_test

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomachina/machina/ml/compose"
	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gob.Register(&constModel{})
	gob.Register(&constFit{})
	gob.Register(&shiftModel{})
	gob.Register(&shiftFit{})
	gob.Register(map[string]any{})
	gob.Register([]string{})
}

// constModel predicts the training-target mean plus a fixed offset.
type constModel struct {
	Offset float64
}

type constFit struct {
	Value float64
}

func (m *constModel) TypeName() string { return "test.const" }

func (m *constModel) Fit(x *data.Table, y []float64) (any, any, map[string]any, error) {
	if len(y) == 0 {
		return nil, nil, nil, errors.Errorf("no target values")
	}
	var sum float64
	for _, v := range y {
		sum += v
	}
	return &constFit{Value: sum/float64(len(y)) + m.Offset}, nil, nil, nil
}

func (m *constModel) Predict(fitresult any, x *data.Table) ([]float64, error) {
	fit, ok := fitresult.(*constFit)
	if !ok {
		return nil, errors.Errorf("fitresult is %T, expected *constFit", fitresult)
	}
	preds := make([]float64, x.NumRows())
	for ii := range preds {
		preds[ii] = fit.Value
	}
	return preds, nil
}

// shiftModel is a transformer adding a fixed shift to every cell.
type shiftModel struct {
	Shift float64
}

type shiftFit struct {
	Features []string
}

func (m *shiftModel) TypeName() string { return "test.shift" }

func (m *shiftModel) Fit(x *data.Table) (any, any, map[string]any, error) {
	return &shiftFit{Features: append([]string(nil), x.Names()...)}, nil, nil, nil
}

func (m *shiftModel) Transform(fitresult any, x *data.Table) (*data.Table, error) {
	fit, ok := fitresult.(*shiftFit)
	if !ok {
		return nil, errors.Errorf("fitresult is %T, expected *shiftFit", fitresult)
	}
	if err := x.CheckColumns(fit.Features); err != nil {
		return nil, err
	}
	cols := make([][]float64, x.NumCols())
	for jj := range cols {
		col := x.Column(jj)
		out := make([]float64, len(col))
		for ii, v := range col {
			out[ii] = v + m.Shift
		}
		cols[jj] = out
	}
	return data.NewTable(x.Names(), cols)
}

func newXY(t *testing.T) (*data.Table, []float64) {
	x, err := data.NewTable(
		[]string{"a", "b"},
		[][]float64{{1, 2, 3, 4, 5, 6}, {2, 4, 6, 8, 10, 12}})
	require.NoError(t, err)
	return x, []float64{1, 2, 3, 4, 5, 9}
}

func TestNodeValues(t *testing.T) {
	x, y := newXY(t)
	xs := compose.SourceOf(x)
	ys := compose.SourceOf(y)
	assert.True(t, xs.IsSource())
	assert.True(t, xs.IsBound())

	mach := machine.New(&constModel{}, xs, ys)
	require.NoError(t, mach.Fit())
	pred := compose.Predict(mach, xs)
	assert.False(t, pred.IsSource())

	v, err := pred.Value()
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 4, 4, 4, 4, 4}, v)

	// Clearing the source makes the operation uncomputable.
	xs.Clear()
	_, err = pred.Value()
	assert.ErrorIs(t, err, machine.ErrUnboundSource)
	assert.False(t, pred.IsBound())
}

func TestAncestorsIncludesMachineArgs(t *testing.T) {
	x, y := newXY(t)
	xs := compose.SourceOf(x)
	ys := compose.SourceOf(y)
	mach := machine.New(&constModel{}, xs, ys)
	require.NoError(t, mach.Fit())
	pred := compose.Predict(mach, xs)

	ancestors := compose.Ancestors(pred)
	// The target source is reachable through the machine's training
	// arguments, even though no node consumes it directly.
	assert.Contains(t, ancestors, ys)
	assert.Contains(t, ancestors, xs)
	// Topological order: arguments strictly before consumers.
	idx := make(map[*compose.Node]int, len(ancestors))
	for ii, n := range ancestors {
		idx[n] = ii
	}
	assert.Less(t, idx[xs], idx[pred])
	assert.Less(t, idx[ys], idx[pred])
}

func TestNetworkPredict(t *testing.T) {
	x, y := newXY(t)
	xs := compose.SourceOf(x)
	ys := compose.SourceOf(y)
	mach := machine.New(&constModel{}, xs, ys)
	require.NoError(t, mach.Fit())
	nw := compose.NewNetwork(
		[]*compose.Node{xs, ys},
		map[string]*compose.Node{compose.RolePredict: compose.Predict(mach, xs)},
		nil)

	xNew, err := data.NewTable([]string{"a", "b"}, [][]float64{{7}, {14}})
	require.NoError(t, err)
	preds, err := nw.Predict(xNew)
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, preds)

	assert.Len(t, nw.Machines(), 1)
	_, err = nw.TransformTable(xNew)
	assert.Error(t, err, "no transform output")
}

func TestStack(t *testing.T) {
	x, y := newXY(t)
	stack := compose.NewStack(&constModel{}, &constModel{Offset: -1}, &constModel{Offset: 1})
	mach := machine.Bind(stack, x, y)
	require.NoError(t, mach.Fit())

	nwAny, err := mach.Fitresult()
	require.NoError(t, err)
	nw, ok := nwAny.(*compose.Network)
	require.True(t, ok, "stack fitresult must be a learning network")
	assert.Len(t, nw.Machines(), 3, "two bases plus the meta machine")

	preds, err := mach.Predict(x)
	require.NoError(t, err)
	require.Len(t, preds, 6)
	// All members predict constants, so the stack does too: the mean of y.
	assert.InDelta(t, 4.0, preds[0], 1e-9)

	report := mach.Report()
	assert.Equal(t, []string{"test.const", "test.const"}, report["base_models"])
}

func TestPipeline(t *testing.T) {
	x, y := newXY(t)
	pipe := compose.NewPipeline(&constModel{}, &shiftModel{Shift: 10}, &shiftModel{Shift: 5})
	mach := machine.Bind(pipe, x, y)
	require.NoError(t, mach.Fit())

	preds, err := mach.Predict(x)
	require.NoError(t, err)
	require.Len(t, preds, 6)
	assert.InDelta(t, 4.0, preds[0], 1e-9)

	nwAny, err := mach.Fitresult()
	require.NoError(t, err)
	nw := nwAny.(*compose.Network)
	transformed, err := nw.TransformTable(x)
	require.NoError(t, err)
	assert.InDelta(t, 16.0, transformed.Column(0)[0], 1e-9, "both shifts applied")
}

func TestEnsemble(t *testing.T) {
	x, y := newXY(t)
	ens := &compose.Ensemble{Base: &constModel{}, Size: 5, Seed: 42}
	mach := machine.Bind(ens, x, y)
	require.NoError(t, mach.Fit())

	fitAny, err := mach.Fitresult()
	require.NoError(t, err)
	fit, ok := fitAny.(*compose.EnsembleFit)
	require.True(t, ok)
	assert.Len(t, fit.SubMachines(), 5)
	for _, member := range fit.SubMachines() {
		assert.True(t, member.IsTrained())
		assert.NotNil(t, member.Resampled(), "members keep their bootstrap view in memory")
	}

	preds, err := mach.Predict(x)
	require.NoError(t, err)
	require.Len(t, preds, 6)

	// Same seed, same members, same predictions.
	mach2 := machine.Bind(&compose.Ensemble{Base: &constModel{}, Size: 5, Seed: 42}, x, y)
	require.NoError(t, mach2.Fit())
	preds2, err := mach2.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, preds, preds2)
}

func TestTunedModel(t *testing.T) {
	x, y := newXY(t)
	tuned := &compose.TunedModel{
		Candidates: []machine.Learner{
			&constModel{},
			&constModel{Offset: 100},
		},
		Seed: 1,
	}
	mach := machine.Bind(tuned, x, y)
	require.NoError(t, mach.Fit())

	preds, err := mach.Predict(x)
	require.NoError(t, err)
	assert.Less(t, preds[0], 50.0, "the unshifted candidate must win")

	report := mach.Report()
	trials, ok := report["trials"].([]compose.Trial)
	require.True(t, ok)
	assert.Len(t, trials, 2)
	assert.Less(t, trials[0].RMSE, trials[1].RMSE)

	cache, ok := mach.Cache().(map[string]any)
	require.True(t, ok)
	assert.Contains(t, cache, "trials")
}

func TestNetworkGobPreservesSharing(t *testing.T) {
	x, y := newXY(t)
	xs := compose.SourceOf(x)
	ys := compose.SourceOf(y)
	mach := machine.New(&constModel{}, xs, ys)
	mach.SetCaching(false)
	require.NoError(t, mach.Fit())

	// The same machine feeds two distinct nodes.
	nw := compose.NewNetwork(
		[]*compose.Node{xs, ys},
		map[string]*compose.Node{compose.RolePredict: compose.Predict(mach, xs)},
		map[string]*compose.Node{"diagnostic": compose.Predict(mach, xs)})
	require.Len(t, nw.Machines(), 1)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(nw))
	decoded := &compose.Network{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(decoded))

	assert.Len(t, decoded.Machines(), 1, "sub-machine sharing must survive the round trip")
	require.Len(t, decoded.Inputs(), 2)
	for _, in := range decoded.Inputs() {
		assert.False(t, in.IsBound(), "decoded sources must be empty")
	}

	sub := decoded.Machines()[0]
	assert.True(t, sub.IsTrained())
	assert.Equal(t, "test.const", sub.Model().TypeName())

	// Binding fresh data through the decoded network works.
	xNew, err := data.NewTable([]string{"a", "b"}, [][]float64{{0, 0}, {0, 0}})
	require.NoError(t, err)
	preds, err := decoded.Predict(xNew)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 4}, preds)
}

func TestVectorTableOp(t *testing.T) {
	a := compose.SourceOf([]float64{1, 2})
	b := compose.SourceOf([]float64{3, 4})
	node := compose.VectorTable([]string{"p", "q"}, a, b)
	v, err := node.Value()
	require.NoError(t, err)
	table, err := machine.AsTable(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "q"}, table.Names())
	assert.Equal(t, []float64{1, 2}, table.Column(0))
	assert.Equal(t, []float64{3, 4}, table.Column(1))
}
