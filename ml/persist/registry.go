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
	"reflect"

	"github.com/gomachina/machina/ml/machine"
	"github.com/gomlx/exceptions"
)

// The cross-language envelope carries type tags instead of Go type
// information, so concrete model and fitresult types must be registered by
// the packages defining them (each model package does so in its init).
// The native gob envelope uses gob's own registry; these maps serve the
// portable format and tooling that inspects envelopes without decoding
// fitted state.

var (
	modelTypes     = map[string]reflect.Type{}
	fitresultTypes = map[string]reflect.Type{}
)

// RegisterModel registers a model type under its TypeName, so the portable
// envelope can rebuild its configuration on load. It panics on a duplicate
// TypeName, a programming error.
func RegisterModel(model machine.Model) {
	name := model.TypeName()
	t := reflect.TypeOf(model)
	if prev, found := modelTypes[name]; found && prev != t {
		exceptions.Panicf("persist.RegisterModel: type name %q already registered to %s", name, prev)
	}
	modelTypes[name] = t
}

// RegisterFitresult registers a fitresult type under its tag (see
// FitresultTag), so the portable envelope can rebuild fitted state on load.
func RegisterFitresult(fitresult any) {
	tag := FitresultTag(fitresult)
	t := reflect.TypeOf(fitresult)
	if prev, found := fitresultTypes[tag]; found && prev != t {
		exceptions.Panicf("persist.RegisterFitresult: tag %q already registered to %s", tag, prev)
	}
	fitresultTypes[tag] = t
}

// FitresultTag returns the portable type tag of a fitresult value: the Go
// type name with the pointer stripped, e.g. "tree.Tree".
func FitresultTag(fitresult any) string {
	t := reflect.TypeOf(fitresult)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.String()
}

// newModel creates a zero value of the model type registered under name.
func newModel(name string) (machine.Model, bool) {
	t, found := modelTypes[name]
	if !found {
		return nil, false
	}
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(machine.Model), true
	}
	return reflect.Zero(t).Interface().(machine.Model), true
}

// newFitresult creates a zero value of the fitresult type registered under
// tag. The returned value is always a pointer, suitable as a decode target.
func newFitresult(tag string) (any, bool) {
	t, found := fitresultTypes[tag]
	if !found {
		return nil, false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflect.New(t).Interface(), true
}
