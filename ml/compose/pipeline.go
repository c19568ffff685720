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

	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&Pipeline{})
}

// Pipeline chains transformers and feeds the transformed features to a
// final learner. It is a composite model: the fitresult is a learning
// network with one machine per stage.
//
// A Pipeline is itself a machine.Learner, so pipelines can be stacked or
// nested inside other composites.
type Pipeline struct {
	Stages []machine.Transformer
	Last   machine.Learner
}

// NewPipeline creates a Pipeline ending in learner last. It panics on a nil
// last learner; an empty stage list is allowed (degenerate pipeline).
func NewPipeline(last machine.Learner, stages ...machine.Transformer) *Pipeline {
	if last == nil {
		exceptions.Panicf("compose.NewPipeline: final learner is nil")
	}
	return &Pipeline{Stages: stages, Last: last}
}

// TypeName implements machine.Model.
func (p *Pipeline) TypeName() string { return "compose.pipeline" }

// Fit implements machine.Learner.
func (p *Pipeline) Fit(x *data.Table, y []float64) (any, any, map[string]any, error) {
	xs := SourceOf(x)
	ys := SourceOf(y)

	cur := xs
	stageTypes := make([]string, 0, len(p.Stages)+1)
	for ii, stage := range p.Stages {
		tm := machine.New(stage, cur)
		if err := tm.Fit(); err != nil {
			return nil, nil, nil, errors.Wrapf(err, "failed to fit pipeline stage #%d (%s)", ii, stage.TypeName())
		}
		cur = Transform(tm, cur)
		stageTypes = append(stageTypes, stage.TypeName())
	}

	lm := machine.New(p.Last, cur, ys)
	if err := lm.Fit(); err != nil {
		return nil, nil, nil, errors.Wrapf(err, "failed to fit pipeline learner (%s)", p.Last.TypeName())
	}
	yhat := Predict(lm, cur)
	stageTypes = append(stageTypes, p.Last.TypeName())

	nw := NewNetwork([]*Node{xs, ys},
		map[string]*Node{RolePredict: yhat, RoleTransform: cur}, nil)
	report := map[string]any{"stages": stageTypes}
	return nw, nil, report, nil
}

// Predict implements machine.Learner.
func (p *Pipeline) Predict(fitresult any, x *data.Table) ([]float64, error) {
	nw, ok := fitresult.(*Network)
	if !ok {
		return nil, errors.Errorf("pipeline fitresult is %T, expected a learning network", fitresult)
	}
	return nw.Predict(x)
}
