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

package machine

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// machineGob is the wire representation of a Machine. Data sources are
// never transmitted: only their count, so the decoded machine gets the
// right number of empty placeholders. Concrete model and fitresult types
// must be registered with gob by the packages defining them.
type machineGob struct {
	Model     Model
	Fitresult any
	FitOK     bool
	Report    map[string]any
	Cache     any
	Caching   bool
	State     int
	NumArgs   int
}

// GobEncode implements gob.GobEncoder. It is what lets wrapper fitresults
// (ensembles, tuning wrappers) that embed trained sub-machines travel
// through the native envelope encoding.
func (m *Machine) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err := enc.Encode(machineGob{
		Model:     m.model,
		Fitresult: m.fitresult,
		FitOK:     m.fitOK,
		Report:    m.report,
		Cache:     m.cache,
		Caching:   m.caching,
		State:     m.state,
		NumArgs:   len(m.args),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", m)
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (m *Machine) GobDecode(b []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	var wire machineGob
	if err := dec.Decode(&wire); err != nil {
		return errors.Wrapf(err, "failed to decode machine")
	}
	if wire.Model == nil {
		return errors.Errorf("decoded machine has no model handle")
	}
	m.model = wire.Model
	m.fitresult = wire.Fitresult
	m.fitOK = wire.FitOK
	m.report = wire.Report
	m.cache = wire.Cache
	m.caching = wire.Caching
	m.state = wire.State
	m.args = EmptySources(wire.NumArgs)
	return nil
}
