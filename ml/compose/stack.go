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
	"fmt"

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&Stack{})
}

// Stack is stacked generalization: each base learner predicts the target
// from the raw features, and a meta learner predicts the target from the
// base predictions assembled as a feature table.
//
// Stack is a composite model: its fitresult is a learning network whose
// graph holds one trained machine per base learner plus the meta machine.
type Stack struct {
	Meta  machine.Learner
	Bases []machine.Learner
}

// NewStack creates a Stack. It panics on a nil meta learner or an empty
// base list.
func NewStack(meta machine.Learner, bases ...machine.Learner) *Stack {
	if meta == nil {
		exceptions.Panicf("compose.NewStack: meta learner is nil")
	}
	if len(bases) == 0 {
		exceptions.Panicf("compose.NewStack: no base learners")
	}
	return &Stack{Meta: meta, Bases: bases}
}

// TypeName implements machine.Model.
func (s *Stack) TypeName() string { return "compose.stack" }

// Fit implements machine.Learner. It builds and trains the learning
// network, returning the Network as the fitresult.
func (s *Stack) Fit(x *data.Table, y []float64) (any, any, map[string]any, error) {
	xs := SourceOf(x)
	ys := SourceOf(y)

	baseNames := make([]string, len(s.Bases))
	predNodes := make([]*Node, len(s.Bases))
	for ii, base := range s.Bases {
		bm := machine.New(base, xs, ys)
		if err := bm.Fit(); err != nil {
			return nil, nil, nil, errors.Wrapf(err, "failed to fit stack base #%d (%s)", ii, base.TypeName())
		}
		baseNames[ii] = fmt.Sprintf("base%02d", ii)
		predNodes[ii] = Predict(bm, xs)
	}

	metaX := VectorTable(baseNames, predNodes...)
	mm := machine.New(s.Meta, metaX, ys)
	if err := mm.Fit(); err != nil {
		return nil, nil, nil, errors.Wrapf(err, "failed to fit stack meta learner (%s)", s.Meta.TypeName())
	}
	yhat := Predict(mm, metaX)

	nw := NewNetwork([]*Node{xs, ys}, map[string]*Node{RolePredict: yhat}, nil)
	baseTypes := make([]string, len(s.Bases))
	for ii, base := range s.Bases {
		baseTypes[ii] = base.TypeName()
	}
	report := map[string]any{
		"base_models": baseTypes,
		"meta_model":  s.Meta.TypeName(),
	}
	return nw, nil, report, nil
}

// Predict implements machine.Learner.
func (s *Stack) Predict(fitresult any, x *data.Table) ([]float64, error) {
	nw, ok := fitresult.(*Network)
	if !ok {
		return nil, errors.Errorf("stack fitresult is %T, expected a learning network", fitresult)
	}
	return nw.Predict(x)
}
