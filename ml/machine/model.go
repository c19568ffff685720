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
	"github.com/gomachina/machina/ml/data"
)

// Model is a configuration object describing a learning algorithm and its
// hyperparameters. Models are immutable while bound to a Machine -- change
// detection relies on comparing the current and previously fit model.
//
// Every model also implements either Learner or Transformer; Model alone
// is just the handle.
type Model interface {
	// TypeName returns the unique model-type tag. It is used for
	// save/restore hook dispatch, for the codec type registry, and as part
	// of side-file names ("<stem>.<TypeName>.model").
	TypeName() string
}

// Learner is a supervised model: it fits on a feature table and a target
// vector, and predicts a target vector.
//
// Fit returns the learned parameters (fitresult), a free-form cache (may be
// nil) and a free-form report with diagnostics/metadata. The fitresult is
// owned by the Machine afterwards; Predict must treat it as read-only.
type Learner interface {
	Model
	Fit(x *data.Table, y []float64) (fitresult, cache any, report map[string]any, err error)
	Predict(fitresult any, x *data.Table) ([]float64, error)
}

// Transformer is an unsupervised model mapping tables to tables.
type Transformer interface {
	Model
	Fit(x *data.Table) (fitresult, cache any, report map[string]any, err error)
	Transform(fitresult any, x *data.Table) (*data.Table, error)
}

// FitresultSaver is the optional save/restore hook a model can implement
// when its fitresult cannot be serialized directly -- typically an opaque
// handle to native library state.
//
// SaveFitresult converts the fitresult to a persistable form; models backed
// by native state write a side file derived from stem and return a
// lightweight marker for the envelope. RestoreFitresult is the inverse; it
// receives the stem derived from the source being loaded (may be empty when
// restoring an in-memory snapshot that wrote no side files).
//
// Models that don't implement FitresultSaver get identity behavior: the
// fitresult is persisted (and restored) as-is.
type FitresultSaver interface {
	Model
	SaveFitresult(fitresult any, stem string, opts map[string]any) (persisted any, err error)
	RestoreFitresult(persisted any, stem string) (fitresult any, err error)
}

// SubMachiner is implemented by fitresults of wrapper models (tuning
// wrappers, ensembles) that hold trained sub-machines. Sanitization and
// restore recurse into them instead of treating the fitresult as opaque.
//
// WithSubMachines rebuilds the fitresult with the sub-machines replaced,
// in the same order SubMachines returned them.
type SubMachiner interface {
	SubMachines() []*Machine
	WithSubMachines(machines []*Machine) any
}
