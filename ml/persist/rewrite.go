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

package persist

import (
	"github.com/gomachina/machina/ml/compose"
	"github.com/gomachina/machina/ml/machine"
	"github.com/pkg/errors"
)

// rewriteNetwork builds the serializable twin of a learning network: an
// isomorphic graph whose source nodes are empty placeholders and whose
// machines are snapshots (training data stripped, hooks applied).
//
// Identity is the whole point here. A machine referenced by several nodes
// of the original network must be snapshot once and referenced by the
// corresponding nodes of the twin, so both maps below are keyed by pointer.
// The walk is in topological order, so every node's arguments are already
// translated when the node is reached.
func rewriteNetwork(nw *compose.Network, stem string, o options) (*compose.Network, error) {
	roots := make([]*compose.Node, 0, len(nw.Outputs())+len(nw.ReportNodes())+len(nw.Inputs()))
	for _, n := range nw.Outputs() {
		roots = append(roots, n)
	}
	for _, n := range nw.ReportNodes() {
		roots = append(roots, n)
	}
	// Inputs the outputs don't depend on (e.g. the training target) are
	// seeded too, to keep binding positions stable across the round trip.
	roots = append(roots, nw.Inputs()...)

	nodeMap := make(map[*compose.Node]*compose.Node)
	machMap := make(map[*machine.Machine]*machine.Machine)

	for _, n := range compose.Ancestors(roots...) {
		if n.IsSource() {
			nodeMap[n] = compose.NewSourceNode()
			continue
		}
		args := make([]*compose.Node, len(n.NodeArgs()))
		for ii, arg := range n.NodeArgs() {
			t, found := nodeMap[arg]
			if !found {
				return nil, errors.Errorf("network node %s: argument #%d missed by the topological walk", n, ii)
			}
			args[ii] = t
		}
		var mach *machine.Machine
		if orig := n.Machine(); orig != nil {
			var err error
			mach, err = rewriteMachine(orig, machMap, nodeMap, stem, o)
			if err != nil {
				return nil, err
			}
		}
		nodeMap[n] = compose.Apply(n.Op(), mach, args...)
	}

	inputs := make([]*compose.Node, len(nw.Inputs()))
	for ii, in := range nw.Inputs() {
		inputs[ii] = nodeMap[in]
	}
	outputs := make(map[string]*compose.Node, len(nw.Outputs()))
	for role, n := range nw.Outputs() {
		outputs[role] = nodeMap[n]
	}
	var reports map[string]*compose.Node
	if len(nw.ReportNodes()) > 0 {
		reports = make(map[string]*compose.Node, len(nw.ReportNodes()))
		for role, n := range nw.ReportNodes() {
			reports[role] = nodeMap[n]
		}
	}
	return compose.NewNetwork(inputs, outputs, reports), nil
}

// rewriteMachine snapshots one network machine, reusing the snapshot when
// the machine was already seen via another node. Data-source arguments that
// are nodes of the network are rebound to their twins; anything else
// (plain data sources) becomes an empty placeholder.
func rewriteMachine(orig *machine.Machine, machMap map[*machine.Machine]*machine.Machine,
	nodeMap map[*compose.Node]*compose.Node, stem string, o options) (*machine.Machine, error) {
	if snapshot, found := machMap[orig]; found {
		return snapshot, nil
	}
	snapshot, err := serializableWithStem(orig, stem, o)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to snapshot network machine %s", orig)
	}
	args := make([]machine.DataSource, len(orig.Args()))
	for ii, src := range orig.Args() {
		if argNode, ok := src.(*compose.Node); ok {
			if t, found := nodeMap[argNode]; found {
				args[ii] = t
				continue
			}
		}
		args[ii] = machine.NewEmptySource()
	}
	snapshot.SetArgs(args)
	machMap[orig] = snapshot
	return snapshot, nil
}
