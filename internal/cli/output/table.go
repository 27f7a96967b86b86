package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// listLimit is the number of slice elements shown in a cell before it
// collapses to a count.
const listLimit = 3

var (
	stringerType = reflect.TypeFor[fmt.Stringer]()
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
)

// Table is a pre-built set of rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render writes the table with tab-aligned columns. A table with no rows
// writes nothing.
func (t *Table) Render(w io.Writer) error {
	if len(t.Rows) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// TableFormatter renders slices of structs as one row per element, single
// structs and maps as two-column tables, and anything else as JSON.
type TableFormatter struct {
	Wide bool
}

// Format implements Formatter.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch t := data.(type) {
	case nil:
		return nil
	case *Table:
		return t.Render(w)
	case Table:
		return t.Render(w)
	}

	v := reflect.Indirect(reflect.ValueOf(data))
	var t *Table
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		t = listTable(v, f.Wide)
	case reflect.Struct:
		t = fieldTable(v)
	case reflect.Map:
		t = mapTable(v)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return t.Render(w)
}

// column is one struct field shown in a list table.
type column struct {
	header string
	index  int
}

func columnsOf(t reflect.Type, wide bool) []column {
	var cols []column
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		switch tag := field.Tag.Get("table"); {
		case tag == "-":
			continue
		case tag == "wide" && !wide:
			continue
		}
		cols = append(cols, column{header: headerName(field), index: i})
	}
	return cols
}

func listTable(v reflect.Value, wide bool) *Table {
	t := &Table{}
	if v.Len() == 0 {
		return t
	}

	elem := v.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		t.Headers = []string{"VALUE"}
		for i := range v.Len() {
			t.AddRow(cell(v.Index(i)))
		}
		return t
	}

	cols := columnsOf(elem, wide)
	for _, c := range cols {
		t.Headers = append(t.Headers, c.header)
	}
	for i := range v.Len() {
		item := reflect.Indirect(v.Index(i))
		row := make([]string, len(cols))
		if item.IsValid() {
			for j, c := range cols {
				row[j] = cell(item.Field(c.index))
			}
		}
		t.AddRow(row...)
	}
	return t
}

func fieldTable(v reflect.Value) *Table {
	t := &Table{Headers: []string{"FIELD", "VALUE"}}
	for _, c := range columnsOf(v.Type(), true) {
		t.AddRow(jsonName(v.Type().Field(c.index)), cell(v.Field(c.index)))
	}
	return t
}

// mapTable renders one row per key, sorted by the key's rendered form.
func mapTable(v reflect.Value) *Table {
	t := &Table{Headers: []string{"KEY", "VALUE"}}
	iter := v.MapRange()
	for iter.Next() {
		t.AddRow(cell(iter.Key()), cell(iter.Value()))
	}
	sort.Slice(t.Rows, func(i, j int) bool { return t.Rows[i][0] < t.Rows[j][0] })
	return t
}

// cell renders a single value. Zero times, empty strings and empty
// collections show as "-"; nil pointers and interfaces as "".
func cell(v reflect.Value) string {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return ""
	}

	switch v.Type() {
	case timeType:
		tm := v.Interface().(time.Time)
		if tm.IsZero() {
			return "-"
		}
		return tm.Format(time.DateTime)
	case durationType:
		return time.Duration(v.Int()).String()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return listCell(v)
	case reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	}
	if v.Type().Implements(stringerType) {
		return v.Interface().(fmt.Stringer).String()
	}

	switch v.Kind() {
	case reflect.String:
		if v.Len() == 0 {
			return "-"
		}
		return v.String()
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', 2, 64)
	case reflect.Struct:
		return fmt.Sprintf("%+v", v.Interface())
	}
	return fmt.Sprint(v.Interface())
}

func listCell(v reflect.Value) string {
	switch {
	case v.Len() == 0:
		return "-"
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		return string(v.Bytes())
	case v.Len() > listLimit:
		return fmt.Sprintf("[%d items]", v.Len())
	}
	items := make([]string, v.Len())
	for i := range items {
		items[i] = cell(v.Index(i))
	}
	return strings.Join(items, ",")
}

// jsonName is the field's json tag name, or its Go name without one.
func jsonName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

// headerName upper-cases the json name, splitting Go-style names at
// capitals: RaftAddr becomes RAFT_ADDR.
func headerName(field reflect.StructField) string {
	name := jsonName(field)
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
