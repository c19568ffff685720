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

// Package machine defines the Machine entity: the binding of a model
// configuration to input data sources, together with the mutable fitted
// state produced by training.
//
// A Machine is created by binding a Model to data (see Bind or New), fit
// with Machine.Fit, and then used for prediction or transformation. The
// fitresult slot is undefined until the first successful fit: reading it
// before that fails with ErrNotTrained.
//
// Machines are single-threaded objects; no locking is done.
package machine

import (
	"fmt"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

var (
	// ErrNotTrained is returned when the fitresult of a machine that was
	// never successfully fit is accessed.
	ErrNotTrained = errors.New("machine has not been trained (fitresult is undefined)")

	// ErrUnboundSource is returned when an operation requires concrete
	// bound input data but the source is an empty placeholder -- e.g. a
	// machine freshly restored from disk whose data was never rebound.
	ErrUnboundSource = errors.New("data source is empty: bind data to the machine before using it")
)

// StateSerialized is the sentinel value of the lifecycle state counter of a
// sanitized/restored machine. It is invalid on purpose, so a restored
// machine can never be mistaken for one that was just fit in-process.
const StateSerialized = -1

// Machine binds a Model to input data sources and owns the fitted state
// produced by training it.
type Machine struct {
	model Model
	args  []DataSource

	fitresult any
	fitOK     bool
	cache     any
	report    map[string]any

	state   int
	frozen  bool
	caching bool

	// Change-detection bookkeeping, never persisted.
	oldModel  Model
	oldRows   []int
	resampled any
}

// New creates a Machine binding model to the given data sources. Sources
// may be empty placeholders to be bound later. It panics on a nil model
// (a programming error, not a runtime condition).
func New(model Model, args ...DataSource) *Machine {
	if model == nil {
		exceptions.Panicf("machine.New: model is nil")
	}
	return &Machine{
		model:   model,
		args:    args,
		caching: true,
	}
}

// Bind is a convenience constructor wrapping each plain value in a Source.
// Typical usage for a supervised model: machine.Bind(model, x, y).
func Bind(model Model, values ...any) *Machine {
	args := make([]DataSource, len(values))
	for ii, v := range values {
		args[ii] = NewSource(v)
	}
	return New(model, args...)
}

// String implements fmt.Stringer.
func (m *Machine) String() string {
	return fmt.Sprintf("Machine(%s)", m.model.TypeName())
}

// Model returns the machine's model handle.
func (m *Machine) Model() Model { return m.model }

// Args returns the machine's bound data sources. The slice is owned by the
// machine.
func (m *Machine) Args() []DataSource { return m.args }

// SetArgs rebinds the machine's data sources. Used when rebuilding
// learning-network graphs and when rebinding fresh data after a load.
func (m *Machine) SetArgs(args []DataSource) { m.args = args }

// IsTrained reports whether the machine has a defined fitresult.
func (m *Machine) IsTrained() bool { return m.fitOK }

// Fitresult returns the learned parameters. It fails with ErrNotTrained if
// the machine was never fit.
func (m *Machine) Fitresult() (any, error) {
	if !m.fitOK {
		return nil, errors.WithStack(ErrNotTrained)
	}
	return m.fitresult, nil
}

// SetFitresult overwrites the fitresult slot and marks the machine as
// trained. It is used by the persistence layer and by restore hooks; normal
// training goes through Fit.
func (m *Machine) SetFitresult(fitresult any) {
	m.fitresult = fitresult
	m.fitOK = true
}

// Report returns the model's free-form diagnostic report from the last fit.
func (m *Machine) Report() map[string]any { return m.report }

// SetReport overwrites the report slot.
func (m *Machine) SetReport(report map[string]any) { m.report = report }

// Cache returns the machine's free-form cache slot.
func (m *Machine) Cache() any { return m.cache }

// SetCache overwrites the cache slot.
func (m *Machine) SetCache(cache any) { m.cache = cache }

// State returns the lifecycle state counter: 0 before any fit, incremented
// on each fit, StateSerialized after a save/restore round trip.
func (m *Machine) State() int { return m.state }

// SetState overwrites the lifecycle state counter.
func (m *Machine) SetState(state int) { m.state = state }

// Caching reports whether the machine keeps a training-data cache between
// fits (used for warm restarts). Defaults to true.
func (m *Machine) Caching() bool { return m.caching }

// SetCaching sets the cache-mode flag. Must be called before Fit.
func (m *Machine) SetCaching(caching bool) { m.caching = caching }

// Freeze marks the machine as frozen: subsequent Fit calls are no-ops.
func (m *Machine) Freeze() { m.frozen = true }

// Thaw reverses Freeze.
func (m *Machine) Thaw() { m.frozen = false }

// IsFrozen reports whether the machine is frozen.
func (m *Machine) IsFrozen() bool { return m.frozen }

// OldRows returns the bookkeeping of training rows seen in the last fit.
// Never persisted.
func (m *Machine) OldRows() []int { return m.oldRows }

// Resampled returns the resampled data view (set by resampling wrappers),
// if any. Never persisted.
func (m *Machine) Resampled() any { return m.resampled }

// SetResampled attaches a resampled data view to the machine.
func (m *Machine) SetResampled(view any) { m.resampled = view }

// Fit trains the machine on its bound data sources. For a Learner it
// expects two sources (features, target); for a Transformer one source.
// Frozen machines skip training silently.
func (m *Machine) Fit() error {
	if m.frozen {
		return nil
	}
	switch model := m.model.(type) {
	case Learner:
		x, y, err := m.resolveSupervisedArgs()
		if err != nil {
			return err
		}
		fitresult, cache, report, err := model.Fit(x, y)
		if err != nil {
			return errors.Wrapf(err, "failed to fit %s", m)
		}
		m.finishFit(fitresult, cache, report, []any{x, y}, x.NumRows())
	case Transformer:
		x, err := m.resolveTableArg()
		if err != nil {
			return err
		}
		fitresult, cache, report, err := model.Fit(x)
		if err != nil {
			return errors.Wrapf(err, "failed to fit %s", m)
		}
		m.finishFit(fitresult, cache, report, []any{x}, x.NumRows())
	default:
		return errors.Errorf("model %q implements neither Learner nor Transformer", m.model.TypeName())
	}
	return nil
}

// finishFit commits the results of a successful fit.
func (m *Machine) finishFit(fitresult, cache any, report map[string]any, argValues []any, numRows int) {
	m.fitresult = fitresult
	m.fitOK = true
	m.report = report
	if m.caching {
		// The training data is cached under the "data" key; model-provided
		// cache entries are merged beside it. The persistence layer strips
		// the "data" entry and keeps the rest.
		c := map[string]any{"data": argValues}
		switch mc := cache.(type) {
		case nil:
		case map[string]any:
			for k, v := range mc {
				c[k] = v
			}
		default:
			c["model"] = cache
		}
		m.cache = c
	} else {
		m.cache = cache
	}
	m.state++
	m.oldModel = m.model
	m.oldRows = make([]int, numRows)
	for ii := range m.oldRows {
		m.oldRows[ii] = ii
	}
}

// Predict runs the trained model on fresh features x.
func (m *Machine) Predict(x *data.Table) ([]float64, error) {
	if !m.fitOK {
		return nil, errors.WithStack(ErrNotTrained)
	}
	learner, ok := m.model.(Learner)
	if !ok {
		return nil, errors.Errorf("model %q is not a Learner, cannot predict", m.model.TypeName())
	}
	return learner.Predict(m.fitresult, x)
}

// PredictBound predicts on the machine's own bound feature source. It
// fails with ErrUnboundSource when the sources are empty placeholders --
// notably on a machine restored from disk whose data was never rebound.
func (m *Machine) PredictBound() ([]float64, error) {
	if !m.fitOK {
		return nil, errors.WithStack(ErrNotTrained)
	}
	x, err := m.resolveTableArg()
	if err != nil {
		return nil, err
	}
	return m.Predict(x)
}

// TransformTable runs the trained transformer on fresh features x.
func (m *Machine) TransformTable(x *data.Table) (*data.Table, error) {
	if !m.fitOK {
		return nil, errors.WithStack(ErrNotTrained)
	}
	transformer, ok := m.model.(Transformer)
	if !ok {
		return nil, errors.Errorf("model %q is not a Transformer, cannot transform", m.model.TypeName())
	}
	return transformer.Transform(m.fitresult, x)
}

// resolveTableArg resolves the machine's first source to a table.
func (m *Machine) resolveTableArg() (*data.Table, error) {
	if len(m.args) < 1 {
		return nil, errors.Errorf("%s has no bound data sources", m)
	}
	v, err := m.args[0].SourceValue()
	if err != nil {
		return nil, errors.Wrapf(err, "resolving features of %s", m)
	}
	return AsTable(v)
}

// resolveSupervisedArgs resolves (features, target) from the machine's
// first two sources.
func (m *Machine) resolveSupervisedArgs() (*data.Table, []float64, error) {
	if len(m.args) < 2 {
		return nil, nil, errors.Errorf("%s needs (features, target) sources, has %d", m, len(m.args))
	}
	x, err := m.resolveTableArg()
	if err != nil {
		return nil, nil, err
	}
	v, err := m.args[1].SourceValue()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "resolving target of %s", m)
	}
	y, err := AsVector(v)
	if err != nil {
		return nil, nil, err
	}
	if len(y) != x.NumRows() {
		return nil, nil, errors.Errorf("%s: features have %d rows but target has %d", m, x.NumRows(), len(y))
	}
	return x, y, nil
}

// AsTable coerces a source value to a *data.Table.
func AsTable(v any) (*data.Table, error) {
	t, ok := v.(*data.Table)
	if !ok {
		return nil, errors.Errorf("expected a *data.Table, got %T", v)
	}
	return t, nil
}

// AsVector coerces a source value to a []float64 -- either directly or from
// a single-column table.
func AsVector(v any) ([]float64, error) {
	switch value := v.(type) {
	case []float64:
		return value, nil
	case *data.Table:
		if value.NumCols() != 1 {
			return nil, errors.Errorf("expected a vector, got a table with %d columns", value.NumCols())
		}
		return value.Column(0), nil
	default:
		return nil, errors.Errorf("expected a vector ([]float64 or 1-column table), got %T", v)
	}
}
