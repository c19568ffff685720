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
	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/gomachina/machina/types"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Named output roles of a Network.
const (
	RolePredict   = "predict"
	RoleTransform = "transform"
)

// Network is the fitresult of a composite model: the designated output
// nodes of a trained learning network, keyed by role, plus the input source
// nodes in binding order.
//
// The graph hanging off the outputs is what gets persisted -- including the
// trained sub-machines it references, with sharing preserved.
type Network struct {
	inputs  []*Node
	outputs map[string]*Node
	reports map[string]*Node
}

// NewNetwork creates a Network from its input source nodes (in binding
// order) and its named outputs. reports holds report-only roles (values
// surfaced in reports but not callable operations); it may be nil.
//
// It panics if an input is not a source node or if outputs is empty --
// malformed networks are programming errors.
func NewNetwork(inputs []*Node, outputs map[string]*Node, reports map[string]*Node) *Network {
	if len(outputs) == 0 {
		exceptions.Panicf("compose.NewNetwork: no output nodes")
	}
	for ii, in := range inputs {
		if in == nil || !in.IsSource() {
			exceptions.Panicf("compose.NewNetwork: input #%d is not a source node", ii)
		}
	}
	return &Network{inputs: inputs, outputs: outputs, reports: reports}
}

// Inputs returns the network's input source nodes, in binding order.
func (nw *Network) Inputs() []*Node { return nw.inputs }

// Outputs returns the named operation outputs. The map is owned by the
// Network.
func (nw *Network) Outputs() map[string]*Node { return nw.outputs }

// ReportNodes returns the report-only named nodes (may be nil).
func (nw *Network) ReportNodes() map[string]*Node { return nw.reports }

// Output returns the output node for the given role.
func (nw *Network) Output(role string) (*Node, bool) {
	n, found := nw.outputs[role]
	return n, found
}

// allOutputs returns operation and report output nodes together.
func (nw *Network) allOutputs() []*Node {
	outs := make([]*Node, 0, len(nw.outputs)+len(nw.reports))
	for _, n := range nw.outputs {
		outs = append(outs, n)
	}
	for _, n := range nw.reports {
		outs = append(outs, n)
	}
	return outs
}

// AllNodes returns every node the network's outputs depend on, in
// topological order.
func (nw *Network) AllNodes() []*Node {
	return Ancestors(nw.allOutputs()...)
}

// Machines returns the distinct machines referenced by the network's
// reachable nodes, deduplicated by identity, in order of first use.
func (nw *Network) Machines() []*machine.Machine {
	seen := types.MakeSet[*machine.Machine]()
	var machines []*machine.Machine
	for _, n := range nw.AllNodes() {
		mach := n.Machine()
		if mach == nil || seen.Has(mach) {
			continue
		}
		seen.Insert(mach)
		machines = append(machines, mach)
	}
	return machines
}

// BindInputs binds the given values to the network's input sources, in
// order. Fewer values than inputs is allowed: trailing inputs are left
// untouched (e.g. binding only features, not the training target).
func (nw *Network) BindInputs(values ...any) error {
	if len(values) > len(nw.inputs) {
		return errors.Errorf("network has %d inputs, got %d values", len(nw.inputs), len(values))
	}
	for ii, v := range values {
		nw.inputs[ii].Bind(v)
	}
	return nil
}

// Predict binds x to the network's first input source and computes the
// "predict" output. It fails with machine.ErrUnboundSource if the
// prediction path depends on some other source that was never bound.
func (nw *Network) Predict(x *data.Table) ([]float64, error) {
	out, found := nw.Output(RolePredict)
	if !found {
		return nil, errors.Errorf("network has no %q output", RolePredict)
	}
	if x != nil {
		if len(nw.inputs) == 0 {
			return nil, errors.Errorf("network has no input sources to bind")
		}
		nw.inputs[0].Bind(x)
	}
	v, err := out.Value()
	if err != nil {
		return nil, err
	}
	return machine.AsVector(v)
}

// TransformTable binds x to the network's first input source and computes
// the "transform" output.
func (nw *Network) TransformTable(x *data.Table) (*data.Table, error) {
	out, found := nw.Output(RoleTransform)
	if !found {
		return nil, errors.Errorf("network has no %q output", RoleTransform)
	}
	if x != nil {
		if len(nw.inputs) == 0 {
			return nil, errors.Errorf("network has no input sources to bind")
		}
		nw.inputs[0].Bind(x)
	}
	v, err := out.Value()
	if err != nil {
		return nil, err
	}
	return machine.AsTable(v)
}
