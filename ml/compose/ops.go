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
	"github.com/pkg/errors"
)

// Op is the operation computed by a non-source node, given the node's
// optional machine and the values of its argument nodes.
//
// Ops must be gob-encodable values: they travel inside persisted learning
// networks. Register new Op types with gob in an init function.
type Op interface {
	Name() string
	Apply(mach *machine.Machine, args []any) (any, error)
}

func init() {
	gob.Register(PredictOp{})
	gob.Register(TransformOp{})
	gob.Register(VectorTableOp{})
}

// PredictOp runs the node's machine prediction over the first argument.
type PredictOp struct{}

// Name implements Op.
func (PredictOp) Name() string { return "predict" }

// Apply implements Op.
func (PredictOp) Apply(mach *machine.Machine, args []any) (any, error) {
	if mach == nil {
		return nil, errors.Errorf("predict node has no machine")
	}
	if len(args) != 1 {
		return nil, errors.Errorf("predict node takes 1 argument, got %d", len(args))
	}
	x, err := machine.AsTable(args[0])
	if err != nil {
		return nil, err
	}
	return mach.Predict(x)
}

// TransformOp runs the node's machine transformation over the first
// argument.
type TransformOp struct{}

// Name implements Op.
func (TransformOp) Name() string { return "transform" }

// Apply implements Op.
func (TransformOp) Apply(mach *machine.Machine, args []any) (any, error) {
	if mach == nil {
		return nil, errors.Errorf("transform node has no machine")
	}
	if len(args) != 1 {
		return nil, errors.Errorf("transform node takes 1 argument, got %d", len(args))
	}
	x, err := machine.AsTable(args[0])
	if err != nil {
		return nil, err
	}
	return mach.TransformTable(x)
}

// VectorTableOp assembles the argument vectors into a table with the given
// column names. It is how base-model predictions become the feature table
// of a meta-model in a stack.
type VectorTableOp struct {
	Names []string
}

// Name implements Op.
func (op VectorTableOp) Name() string { return "vector_table" }

// Apply implements Op.
func (op VectorTableOp) Apply(_ *machine.Machine, args []any) (any, error) {
	if len(args) != len(op.Names) {
		return nil, errors.Errorf("vector_table node has %d names for %d arguments", len(op.Names), len(args))
	}
	cols := make([][]float64, len(args))
	for ii, arg := range args {
		v, err := machine.AsVector(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "vector_table argument #%d", ii)
		}
		cols[ii] = v
	}
	return data.NewTable(op.Names, cols)
}

// Predict creates a node computing mach's prediction over node x.
func Predict(mach *machine.Machine, x *Node) *Node {
	return Apply(PredictOp{}, mach, x)
}

// Transform creates a node computing mach's transformation of node x.
func Transform(mach *machine.Machine, x *Node) *Node {
	return Apply(TransformOp{}, mach, x)
}

// VectorTable creates a node assembling the argument vector nodes into a
// named-column table.
func VectorTable(names []string, args ...*Node) *Node {
	return Apply(VectorTableOp{Names: names}, nil, args...)
}
