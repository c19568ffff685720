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

// Package compose implements composite models: models whose fitted state is
// a learning network -- a directed acyclic graph of nodes wrapping
// operations and trained sub-machines.
//
// The main elements in the package are:
//
//   - Node: either a source (a placeholder for external input data, holding
//     a value or empty) or an operation node (an Op, argument nodes, and
//     optionally a machine whose trained state the operation consumes).
//     Nodes are built bottom-up, so a network is acyclic by construction
//     and a topological order is always well-defined.
//
//   - Network: the fitresult of a composite model. It maps named roles
//     ("predict", "transform", report fields) to output nodes. A single
//     machine may be referenced from several nodes of one Network --
//     sharing is part of the semantics, e.g. one preprocessing machine
//     feeding both a prediction path and a diagnostic path.
//
//   - Composite and wrapper models: Pipeline and Stack build learning
//     networks; Ensemble and TunedModel wrap sub-machines without a graph.
//
// Graph construction errors (nil operations, nil arguments) are programming
// errors and panic with an exception; runtime conditions (unbound sources,
// failed sub-model fits) are returned as errors.
package compose

import (
	"fmt"

	"github.com/gomachina/machina/ml/machine"
	"github.com/gomachina/machina/types"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Node is one vertex of a learning network. See the package documentation
// for the source/operation distinction.
type Node struct {
	op   Op
	args []*Node
	mach *machine.Machine
	src  *machine.Source
}

// Assert *Node implements machine.DataSource: machines inside a network
// bind their arguments to nodes, not to plain sources.
var _ machine.DataSource = (*Node)(nil)

// NewSourceNode creates an empty source node: a placeholder for external
// input data.
func NewSourceNode() *Node {
	return &Node{src: machine.NewEmptySource()}
}

// SourceOf creates a source node bound to value.
func SourceOf(value any) *Node {
	return &Node{src: machine.NewSource(value)}
}

// Apply creates an operation node computing op over the argument nodes,
// optionally consuming the trained state of mach (may be nil for machine-free
// operations). It panics on nil op or nil arguments -- networks are built
// bottom-up and a nil argument means the caller's graph is malformed.
func Apply(op Op, mach *machine.Machine, args ...*Node) *Node {
	if op == nil {
		exceptions.Panicf("compose.Apply: op is nil")
	}
	for ii, arg := range args {
		if arg == nil {
			exceptions.Panicf("compose.Apply(%s): argument #%d is nil", op.Name(), ii)
		}
	}
	return &Node{op: op, args: args, mach: mach}
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n.IsSource() {
		if n.src.IsBound() {
			return "Source(bound)"
		}
		return "Source(empty)"
	}
	if n.mach != nil {
		return fmt.Sprintf("%s(%s)", n.op.Name(), n.mach.Model().TypeName())
	}
	return n.op.Name()
}

// IsSource reports whether this is a source node.
func (n *Node) IsSource() bool { return n.src != nil }

// Op returns the node's operation; nil for source nodes.
func (n *Node) Op() Op { return n.op }

// NodeArgs returns the node's argument nodes. Source nodes have none.
func (n *Node) NodeArgs() []*Node { return n.args }

// Machine returns the machine associated with this operation node, or nil.
func (n *Node) Machine() *machine.Machine { return n.mach }

// Bind sets the value of a source node. It panics on operation nodes.
func (n *Node) Bind(value any) {
	if !n.IsSource() {
		exceptions.Panicf("compose: Bind called on operation node %s", n)
	}
	n.src.Bind(value)
}

// Clear empties a source node. It panics on operation nodes.
func (n *Node) Clear() {
	if !n.IsSource() {
		exceptions.Panicf("compose: Clear called on operation node %s", n)
	}
	n.src.Clear()
}

// IsBound implements machine.DataSource: a source node is bound if it holds
// a value; an operation node is bound if all its arguments are.
func (n *Node) IsBound() bool {
	if n.IsSource() {
		return n.src.IsBound()
	}
	for _, arg := range n.args {
		if !arg.IsBound() {
			return false
		}
	}
	return true
}

// SourceValue implements machine.DataSource. It computes the node's value.
func (n *Node) SourceValue() (any, error) {
	return n.Value()
}

// Value computes the node's value: the bound data for a source, or the
// operation applied to the argument values otherwise. It fails with
// machine.ErrUnboundSource when an upstream source is an empty placeholder.
func (n *Node) Value() (any, error) {
	if n.IsSource() {
		return n.src.SourceValue()
	}
	argValues := make([]any, len(n.args))
	for ii, arg := range n.args {
		v, err := arg.Value()
		if err != nil {
			return nil, err
		}
		argValues[ii] = v
	}
	v, err := n.op.Apply(n.mach, argValues)
	if err != nil {
		return nil, errors.Wrapf(err, "failed computing node %s", n)
	}
	return v, nil
}

// Ancestors returns every node some output depends on -- including the
// training arguments of the machines attached to operation nodes -- in
// topological order (arguments strictly before consumers). This is the
// minimal node set whose computation suffices to produce all the given
// outputs; nodes not reachable from any output are not included.
func Ancestors(outputs ...*Node) []*Node {
	visited := types.MakeSet[*Node]()
	var order []*Node
	var visit func(n *Node)
	visit = func(n *Node) {
		if visited.Has(n) {
			return
		}
		visited.Insert(n)
		for _, arg := range n.args {
			visit(arg)
		}
		if n.mach != nil {
			// A machine's trained state depends on the nodes it was fit on.
			for _, src := range n.mach.Args() {
				if argNode, ok := src.(*Node); ok {
					visit(argNode)
				}
			}
		}
		order = append(order, n)
	}
	for _, out := range outputs {
		if out != nil {
			visit(out)
		}
	}
	return order
}
