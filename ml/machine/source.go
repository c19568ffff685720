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
	"github.com/pkg/errors"
)

// DataSource is anything a machine argument can be bound to: a plain
// Source holding data, or a learning-network node whose value is computed
// from upstream machines.
type DataSource interface {
	// SourceValue returns the bound (or computed) value. It fails with
	// ErrUnboundSource if no concrete data is available.
	SourceValue() (any, error)

	// IsBound reports whether a concrete value is available without
	// computing anything.
	IsBound() bool
}

// Source is a placeholder for external input data. It holds a value or is
// empty; machines resolve their bound sources at fit/predict time.
//
// An empty Source is exactly what sanitized machines carry in place of
// their original training data.
type Source struct {
	value any
}

// NewSource creates a Source bound to value. A nil value creates an empty
// source.
func NewSource(value any) *Source {
	return &Source{value: value}
}

// NewEmptySource creates an unbound Source.
func NewEmptySource() *Source {
	return &Source{}
}

// SourceValue implements DataSource.
func (s *Source) SourceValue() (any, error) {
	if s == nil || s.value == nil {
		return nil, errors.WithStack(ErrUnboundSource)
	}
	return s.value, nil
}

// IsBound implements DataSource.
func (s *Source) IsBound() bool {
	return s != nil && s.value != nil
}

// Bind sets the source's value, replacing any previous one.
func (s *Source) Bind(value any) {
	s.value = value
}

// Clear empties the source.
func (s *Source) Clear() {
	s.value = nil
}

// EmptySources returns n fresh unbound sources as DataSources.
func EmptySources(n int) []DataSource {
	srcs := make([]DataSource, n)
	for ii := range srcs {
		srcs[ii] = NewEmptySource()
	}
	return srcs
}
