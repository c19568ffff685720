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
	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/pkg/errors"
)

// trainingDataKey is the cache entry holding the machine's training data.
// It is the one cache entry always stripped from snapshots; everything else
// a model stashed in the cache survives the round trip.
const trainingDataKey = "data"

// serializableWithStem builds the serializable snapshot of m. The snapshot
// is a fresh machine: same model handle and caching/frozen flags, empty
// data sources in place of the bound ones, sanitized cache and report, the
// lifecycle state set to the serialized sentinel, and the fitresult
// converted by the applicable strategy:
//
//   - a learning network is rewritten node by node (see rewriteNetwork),
//     preserving sub-machine sharing;
//   - a model with a save hook has the hook convert its opaque state;
//   - a wrapper fitresult holding sub-machines has them snapshot
//     recursively;
//   - anything else is kept as-is.
//
// All sub-machines reached this way must be trained; an untrained one fails
// the whole snapshot.
func serializableWithStem(m *machine.Machine, stem string, o options) (*machine.Machine, error) {
	if !m.IsTrained() {
		return nil, errors.Wrapf(machine.ErrNotTrained, "cannot snapshot %s", m)
	}
	fitresult, err := m.Fitresult()
	if err != nil {
		return nil, err
	}
	persisted, err := sanitizeFitresult(m, fitresult, stem, o)
	if err != nil {
		return nil, err
	}

	snapshot := machine.New(m.Model(), machine.EmptySources(len(m.Args()))...)
	snapshot.SetFitresult(persisted)
	snapshot.SetCaching(m.Caching())
	if m.IsFrozen() {
		snapshot.Freeze()
	}
	snapshot.SetState(machine.StateSerialized)
	cache, err := sanitizeCache(m.Cache(), stem, o)
	if err != nil {
		return nil, err
	}
	snapshot.SetCache(cache)
	report, err := sanitizeReport(m.Report(), stem, o)
	if err != nil {
		return nil, err
	}
	snapshot.SetReport(report)
	return snapshot, nil
}

// sanitizeFitresult converts a fitresult to its persistable form. The
// dispatch order matters: a composite's network takes precedence over any
// hook its wrapper model might also implement, and the hook over generic
// sub-machine recursion.
func sanitizeFitresult(m *machine.Machine, fitresult any, stem string, o options) (any, error) {
	if nw, ok := fitresult.(*compose.Network); ok {
		return rewriteNetwork(nw, stem, o)
	}
	if saver, ok := m.Model().(machine.FitresultSaver); ok {
		persisted, err := saver.SaveFitresult(fitresult, stem, o.hookOpts)
		if err != nil {
			return nil, errors.Wrapf(err, "save hook of %s failed", m)
		}
		return persisted, nil
	}
	if wrapper, ok := fitresult.(machine.SubMachiner); ok {
		subs := wrapper.SubMachines()
		snapshots := make([]*machine.Machine, len(subs))
		for ii, sub := range subs {
			snapshot, err := serializableWithStem(sub, stem, o)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to snapshot sub-machine #%d of %s", ii, m)
			}
			snapshots[ii] = snapshot
		}
		return wrapper.WithSubMachines(snapshots), nil
	}
	return fitresult, nil
}

// sanitizeCache strips the training-data entry from a machine cache and
// snapshots any machines nested in the remaining entries.
func sanitizeCache(cache any, stem string, o options) (any, error) {
	m, ok := cache.(map[string]any)
	if !ok {
		return sanitizeValue(cache, stem, o)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == trainingDataKey {
			continue
		}
		sv, err := sanitizeValue(v, stem, o)
		if err != nil {
			return nil, err
		}
		if sv == nil {
			continue
		}
		out[k] = sv
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// sanitizeReport returns a copy of a report with data tables dropped and
// nested machines snapshot.
func sanitizeReport(report map[string]any, stem string, o options) (map[string]any, error) {
	if report == nil {
		return nil, nil
	}
	out := make(map[string]any, len(report))
	for k, v := range report {
		sv, err := sanitizeValue(v, stem, o)
		if err != nil {
			return nil, err
		}
		if sv == nil {
			continue
		}
		out[k] = sv
	}
	return out, nil
}

// sanitizeValue recursively sanitizes one cache or report value. Data
// tables are dropped (returned as nil), machines are snapshot, and maps and
// slices are walked.
func sanitizeValue(v any, stem string, o options) (any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case *data.Table:
		return nil, nil
	case *machine.Machine:
		return serializableWithStem(value, stem, o)
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, elem := range value {
			sv, err := sanitizeValue(elem, stem, o)
			if err != nil {
				return nil, err
			}
			if sv == nil {
				continue
			}
			out[k] = sv
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(value))
		for _, elem := range value {
			sv, err := sanitizeValue(elem, stem, o)
			if err != nil {
				return nil, err
			}
			if sv == nil {
				continue
			}
			out = append(out, sv)
		}
		return out, nil
	default:
		return v, nil
	}
}

// restoreWithStem is the inverse of serializableWithStem, applied in place:
// it walks the machine's fitted state in the same dispatch order and undoes
// what sanitization did, running restore hooks where save hooks ran.
// Machines with neither network, hook nor sub-machines are left untouched.
func restoreWithStem(m *machine.Machine, stem string) error {
	if !m.IsTrained() {
		return nil
	}
	fitresult, err := m.Fitresult()
	if err != nil {
		return err
	}

	if nw, ok := fitresult.(*compose.Network); ok {
		for _, sub := range nw.Machines() {
			if err := restoreWithStem(sub, stem); err != nil {
				return err
			}
		}
		return nil
	}
	if saver, ok := m.Model().(machine.FitresultSaver); ok {
		restored, err := saver.RestoreFitresult(fitresult, stem)
		if err != nil {
			return errors.Wrapf(err, "restore hook of %s failed", m)
		}
		m.SetFitresult(restored)
		return nil
	}
	if wrapper, ok := fitresult.(machine.SubMachiner); ok {
		for ii, sub := range wrapper.SubMachines() {
			if err := restoreWithStem(sub, stem); err != nil {
				return errors.Wrapf(err, "failed to restore sub-machine #%d of %s", ii, m)
			}
		}
		return nil
	}
	return nil
}
