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

package data

import (
	"bytes"
	"encoding/gob"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	table, err := NewTable(
		[]string{"a", "b"},
		[][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, 3, table.NumRows())
	assert.Equal(t, 2, table.NumCols())
	assert.False(t, table.IsEmpty())
	assert.Equal(t, []string{"a", "b"}, table.Names())
	assert.Equal(t, []float64{4, 5, 6}, table.Column(1))
	assert.Equal(t, []float64{2, 5}, table.Row(1))

	col, err := table.Col("b")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, col)
	_, err = table.Col("nope")
	assert.Error(t, err)

	_, err = NewTable([]string{"a", "b"}, [][]float64{{1}, {2, 3}})
	assert.Error(t, err, "mismatched column lengths must fail")
	_, err = NewTable([]string{"a"}, [][]float64{{1}, {2}})
	assert.Error(t, err, "mismatched names/columns must fail")

	var nilTable *Table
	assert.Equal(t, 0, nilTable.NumRows())
	assert.True(t, nilTable.IsEmpty())
}

func TestTableSelectRows(t *testing.T) {
	table, err := NewTable(
		[]string{"x"},
		[][]float64{{10, 20, 30, 40}})
	require.NoError(t, err)

	sub := table.SelectRows([]int{3, 1, 1})
	assert.Equal(t, 3, sub.NumRows())
	assert.Equal(t, []float64{40, 20, 20}, sub.Column(0))
	// The original is untouched.
	assert.Equal(t, []float64{10, 20, 30, 40}, table.Column(0))
}

func TestTableCheckColumns(t *testing.T) {
	table, err := NewTable(
		[]string{"a", "b"},
		[][]float64{{1}, {2}})
	require.NoError(t, err)
	assert.NoError(t, table.CheckColumns([]string{"b", "a"}))
	assert.Error(t, table.CheckColumns([]string{"a", "c"}))
}

func TestTableDataFrameRoundTrip(t *testing.T) {
	table, err := NewTable(
		[]string{"a", "b"},
		[][]float64{{1, 2}, {3.5, 4.5}})
	require.NoError(t, err)

	df := table.DataFrame()
	back, err := FromDataFrame(df)
	require.NoError(t, err)
	assert.Equal(t, table.Names(), back.Names())
	assert.Equal(t, table.Column(0), back.Column(0))
	assert.Equal(t, table.Column(1), back.Column(1))
}

func TestTableFromCSV(t *testing.T) {
	csv := "a,b\n1,4\n2,5\n3,6\n"
	table, err := FromCSV(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, table.Names())
	assert.Equal(t, 3, table.NumRows())
	assert.Equal(t, []float64{1, 2, 3}, table.Column(0))
}

func TestTableGob(t *testing.T) {
	table, err := NewTable(
		[]string{"a", "b"},
		[][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(table))
	decoded := &Table{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(decoded))
	assert.Equal(t, table.Names(), decoded.Names())
	assert.Equal(t, table.Column(0), decoded.Column(0))
	assert.Equal(t, table.Column(1), decoded.Column(1))
}
