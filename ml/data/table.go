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

// Package data provides the tabular data type consumed by machines, plus
// adapters from/to gota dataframes and CSV sources.
//
// A Table is a column-major numeric table with named columns. It is the
// common currency between models: learners take a feature Table and a
// target vector, transformers map Tables to Tables.
package data

import (
	"bytes"
	"encoding/gob"
	"io"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// Table is an immutable column-major table of float64 columns.
// The zero value (or nil) is an empty table.
type Table struct {
	names []string
	cols  [][]float64
}

// NewTable creates a Table from column names and column data. All columns
// must have the same length.
func NewTable(names []string, cols [][]float64) (*Table, error) {
	if len(names) != len(cols) {
		return nil, errors.Errorf("NewTable: %d names for %d columns", len(names), len(cols))
	}
	for ii := 1; ii < len(cols); ii++ {
		if len(cols[ii]) != len(cols[0]) {
			return nil, errors.Errorf("NewTable: column %q has %d rows, column %q has %d",
				names[ii], len(cols[ii]), names[0], len(cols[0]))
		}
	}
	return &Table{names: names, cols: cols}, nil
}

// NumRows returns the number of rows. A nil Table has 0 rows.
func (t *Table) NumRows() int {
	if t == nil || len(t.cols) == 0 {
		return 0
	}
	return len(t.cols[0])
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int {
	if t == nil {
		return 0
	}
	return len(t.cols)
}

// IsEmpty reports whether the table holds no data.
func (t *Table) IsEmpty() bool {
	return t.NumRows() == 0
}

// Names returns the column names. The returned slice is owned by the Table,
// don't change it.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	return t.names
}

// Column returns column ii. The returned slice is owned by the Table.
func (t *Table) Column(ii int) []float64 {
	return t.cols[ii]
}

// Col returns the column with the given name.
func (t *Table) Col(name string) ([]float64, error) {
	for ii, n := range t.Names() {
		if n == name {
			return t.cols[ii], nil
		}
	}
	return nil, errors.Errorf("table has no column %q (columns: %s)", name, strings.Join(t.Names(), ", "))
}

// Row copies row ii into a new slice, one value per column.
func (t *Table) Row(ii int) []float64 {
	row := make([]float64, t.NumCols())
	for jj, col := range t.cols {
		row[jj] = col[ii]
	}
	return row
}

// SelectRows builds a new Table with only the given rows, in order.
// Repeated indices are allowed (sampling with replacement).
func (t *Table) SelectRows(rows []int) *Table {
	cols := make([][]float64, t.NumCols())
	for jj, col := range t.cols {
		sub := make([]float64, len(rows))
		for ii, r := range rows {
			sub[ii] = col[r]
		}
		cols[jj] = sub
	}
	return &Table{names: t.names, cols: cols}
}

// CheckColumns verifies the table has every one of the given columns.
// It is used to validate freshly bound data against the columns a model
// was trained on.
func (t *Table) CheckColumns(names []string) error {
	for _, name := range names {
		if _, err := t.Col(name); err != nil {
			return errors.Wrapf(err, "table is not compatible with the trained model")
		}
	}
	return nil
}

// FromDataFrame converts a gota dataframe to a Table. Every column is
// coerced to float64 (gota handles int and bool promotion).
func FromDataFrame(df dataframe.DataFrame) (*Table, error) {
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "FromDataFrame given a dataframe in error state")
	}
	names := df.Names()
	cols := make([][]float64, len(names))
	for ii, name := range names {
		s := df.Col(name)
		if s.Err != nil {
			return nil, errors.Wrapf(s.Err, "failed to read dataframe column %q", name)
		}
		cols[ii] = s.Float()
	}
	return &Table{names: names, cols: cols}, nil
}

// DataFrame converts the Table to a gota dataframe.
func (t *Table) DataFrame() dataframe.DataFrame {
	ss := make([]series.Series, t.NumCols())
	for ii, name := range t.Names() {
		ss[ii] = series.New(t.cols[ii], series.Float, name)
	}
	return dataframe.New(ss...)
}

// FromCSV reads a CSV stream (with a header row) into a Table, using gota
// for parsing and type inference.
func FromCSV(r io.Reader) (*Table, error) {
	df := dataframe.ReadCSV(r)
	return FromDataFrame(df)
}

// tableGob is the wire representation of a Table: the fields of Table are
// unexported, so it implements gob.GobEncoder/gob.GobDecoder explicitly.
type tableGob struct {
	Names []string
	Cols  [][]float64
}

// GobEncode implements gob.GobEncoder.
func (t *Table) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(tableGob{Names: t.Names(), Cols: t.cols}); err != nil {
		return nil, errors.Wrapf(err, "failed to encode Table")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (t *Table) GobDecode(b []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	var wire tableGob
	if err := dec.Decode(&wire); err != nil {
		return errors.Wrapf(err, "failed to decode Table")
	}
	t.names = wire.Names
	t.cols = wire.Cols
	return nil
}
