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
	"bytes"
	"encoding/gob"

	"github.com/gomachina/machina/ml/machine"
	"github.com/pkg/errors"
)

func init() {
	gob.Register(&Network{})
}

// Gob encodes values, not object graphs: shared pointers are flattened and
// duplicated on decode. A learning network is exactly the case where that
// is wrong -- one machine may be referenced from several nodes, and the
// round trip must preserve the sharing. So Network implements its own gob
// encoding: the graph is flattened into an arena of nodes in topological
// order, with argument references and machine references turned into
// indices, and machines deduplicated by identity into a side table.

// flatNode is one arena entry. Args index into the arena (always smaller
// than the entry's own index); MachineIdx indexes the machine table, -1 for
// none. Source nodes are encoded empty: data values never travel.
type flatNode struct {
	Source     bool
	Op         Op
	Args       []int32
	MachineIdx int32
}

// flatMachine carries a machine's persistable fields. Args are arena
// indices of the nodes the machine was bound to.
type flatMachine struct {
	Model     machine.Model
	Fitresult any
	FitOK     bool
	Report    map[string]any
	Cache     any
	Caching   bool
	State     int
	Args      []int32
}

// flatNetwork is the wire representation of a Network.
type flatNetwork struct {
	Nodes    []flatNode
	Machines []flatMachine
	Inputs   []int32
	Outputs  map[string]int32
	Reports  map[string]int32
}

// GobEncode implements gob.GobEncoder.
func (nw *Network) GobEncode() ([]byte, error) {
	// Inputs are seeded into the arena alongside the outputs: an input the
	// outputs don't depend on (e.g. the training target) must still survive
	// the round trip to keep binding positions stable.
	roots := nw.allOutputs()
	for _, in := range nw.inputs {
		roots = append(roots, in)
	}
	nodes := Ancestors(roots...)
	nodeIdx := make(map[*Node]int32, len(nodes))
	for ii, n := range nodes {
		nodeIdx[n] = int32(ii)
	}

	translateArgs := func(args []*Node) ([]int32, error) {
		out := make([]int32, len(args))
		for ii, arg := range args {
			idx, found := nodeIdx[arg]
			if !found {
				return nil, errors.Errorf("network node %s is referenced but not reachable from any output", arg)
			}
			out[ii] = idx
		}
		return out, nil
	}

	flat := flatNetwork{
		Nodes:   make([]flatNode, len(nodes)),
		Outputs: make(map[string]int32, len(nw.outputs)),
	}
	machIdx := make(map[*machine.Machine]int32)
	for ii, n := range nodes {
		fn := flatNode{Source: n.IsSource(), Op: n.op, MachineIdx: -1}
		if !n.IsSource() {
			args, err := translateArgs(n.args)
			if err != nil {
				return nil, err
			}
			fn.Args = args
			if n.mach != nil {
				idx, found := machIdx[n.mach]
				if !found {
					fm, err := flattenMachine(n.mach, nodeIdx)
					if err != nil {
						return nil, err
					}
					idx = int32(len(flat.Machines))
					flat.Machines = append(flat.Machines, fm)
					machIdx[n.mach] = idx
				}
				fn.MachineIdx = idx
			}
		}
		flat.Nodes[ii] = fn
	}

	inputs, err := translateArgs(nw.inputs)
	if err != nil {
		return nil, err
	}
	flat.Inputs = inputs
	for role, n := range nw.outputs {
		flat.Outputs[role] = nodeIdx[n]
	}
	if len(nw.reports) > 0 {
		flat.Reports = make(map[string]int32, len(nw.reports))
		for role, n := range nw.reports {
			flat.Reports[role] = nodeIdx[n]
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(flat); err != nil {
		return nil, errors.Wrapf(err, "failed to encode learning network")
	}
	return buf.Bytes(), nil
}

// flattenMachine converts a machine to its arena form. The machine's data
// sources must all be nodes of the same network -- true for any network
// that went through sanitization, which rebinds them.
func flattenMachine(mach *machine.Machine, nodeIdx map[*Node]int32) (flatMachine, error) {
	fm := flatMachine{
		Model:   mach.Model(),
		Report:  mach.Report(),
		Cache:   mach.Cache(),
		Caching: mach.Caching(),
		State:   mach.State(),
	}
	if mach.IsTrained() {
		fitresult, err := mach.Fitresult()
		if err != nil {
			return fm, err
		}
		fm.Fitresult = fitresult
		fm.FitOK = true
	}
	fm.Args = make([]int32, len(mach.Args()))
	for ii, src := range mach.Args() {
		argNode, ok := src.(*Node)
		if !ok {
			return fm, errors.Errorf("%s: argument #%d is a %T, not a network node; "+
				"only sanitized networks can be encoded", mach, ii, src)
		}
		idx, found := nodeIdx[argNode]
		if !found {
			return fm, errors.Errorf("%s: argument #%d is not reachable from the network outputs", mach, ii)
		}
		fm.Args[ii] = idx
	}
	return fm, nil
}

// GobDecode implements gob.GobDecoder. It rebuilds an isomorphic graph:
// one pass in arena (topological) order, materializing each machine the
// first time a node references it.
func (nw *Network) GobDecode(b []byte) error {
	var flat flatNetwork
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&flat); err != nil {
		return errors.Wrapf(err, "failed to decode learning network")
	}

	nodes := make([]*Node, len(flat.Nodes))
	machines := make([]*machine.Machine, len(flat.Machines))
	resolve := func(indices []int32, limit int32) ([]*Node, error) {
		out := make([]*Node, len(indices))
		for ii, idx := range indices {
			if idx < 0 || idx >= limit {
				return nil, errors.Errorf("corrupt network encoding: node reference %d out of range", idx)
			}
			out[ii] = nodes[idx]
		}
		return out, nil
	}

	for ii, fn := range flat.Nodes {
		if fn.Source {
			nodes[ii] = NewSourceNode()
			continue
		}
		if fn.Op == nil {
			return errors.Errorf("corrupt network encoding: operation node #%d has no op", ii)
		}
		args, err := resolve(fn.Args, int32(ii))
		if err != nil {
			return err
		}
		var mach *machine.Machine
		if fn.MachineIdx >= 0 {
			if int(fn.MachineIdx) >= len(machines) {
				return errors.Errorf("corrupt network encoding: machine reference %d out of range", fn.MachineIdx)
			}
			mach = machines[fn.MachineIdx]
			if mach == nil {
				fm := flat.Machines[fn.MachineIdx]
				if fm.Model == nil {
					return errors.Errorf("corrupt network encoding: machine #%d has no model handle", fn.MachineIdx)
				}
				machArgs, err := resolve(fm.Args, int32(ii))
				if err != nil {
					return err
				}
				mach = machine.New(fm.Model)
				srcs := make([]machine.DataSource, len(machArgs))
				for jj, a := range machArgs {
					srcs[jj] = a
				}
				mach.SetArgs(srcs)
				mach.SetCaching(fm.Caching)
				mach.SetState(fm.State)
				mach.SetReport(fm.Report)
				mach.SetCache(fm.Cache)
				if fm.FitOK {
					mach.SetFitresult(fm.Fitresult)
				}
				machines[fn.MachineIdx] = mach
			}
		}
		nodes[ii] = &Node{op: fn.Op, args: args, mach: mach}
	}

	limit := int32(len(nodes))
	inputs, err := resolve(flat.Inputs, limit)
	if err != nil {
		return err
	}
	outputs := make(map[string]*Node, len(flat.Outputs))
	for role, idx := range flat.Outputs {
		if idx < 0 || idx >= limit {
			return errors.Errorf("corrupt network encoding: output %q reference out of range", role)
		}
		outputs[role] = nodes[idx]
	}
	var reports map[string]*Node
	if len(flat.Reports) > 0 {
		reports = make(map[string]*Node, len(flat.Reports))
		for role, idx := range flat.Reports {
			if idx < 0 || idx >= limit {
				return errors.Errorf("corrupt network encoding: report %q reference out of range", role)
			}
			reports[role] = nodes[idx]
		}
	}

	nw.inputs = inputs
	nw.outputs = outputs
	nw.reports = reports
	return nil
}
