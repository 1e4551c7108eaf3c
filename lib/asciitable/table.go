// Teleterm
// Copyright (C) 2025  Teleterm Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package asciitable implements a simple ASCII table formatter for
// printing tabular values into a text terminal.
package asciitable

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
)

// Table holds tabular values and renders them column-aligned.
type Table struct {
	headers []string
	rows    [][]string
}

// MakeTable creates a table with the given column headers and initial
// rows.
func MakeTable(headers []string, rows ...[]string) Table {
	t := Table{headers: headers}
	for _, row := range rows {
		t.AddRow(row)
	}
	return t
}

// AddRow appends a row. Missing cells render empty.
func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

// AsBuffer renders the table.
func (t *Table) AsBuffer() *bytes.Buffer {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 5, 0, 1, ' ', 0)

	fmt.Fprintln(w, strings.Join(t.headers, "\t"))
	var underlines []string
	for _, header := range t.headers {
		underlines = append(underlines, strings.Repeat("-", len(header)))
	}
	fmt.Fprintln(w, strings.Join(underlines, "\t"))
	for _, row := range t.rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return &buf
}

// String renders the table as a string.
func (t *Table) String() string {
	return t.AsBuffer().String()
}
