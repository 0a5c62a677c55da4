package db

// Row is a read-only, uniform view over one result record, regardless of
// which backend produced it. It holds a key-ordered column list plus values,
// built once by the driver from the backend's native record shape; accessors
// are plain lookups over this fixed structure.
type Row struct {
	columns []string
	values  []interface{}
	index   map[string]int
}

// NewRow builds a Row from a column list and the matching values. The slices
// are copied so later mutation of the originals cannot leak into the Row.
// Drivers are the only expected callers.
func NewRow(columns []string, values []interface{}) Row {
	r := Row{
		columns: make([]string, len(columns)),
		values:  make([]interface{}, len(values)),
		index:   make(map[string]int, len(columns)),
	}
	copy(r.columns, columns)
	copy(r.values, values)
	for i, c := range r.columns {
		r.index[c] = i
	}
	return r
}

// Get returns the value of the named column and whether the column exists.
func (r Row) Get(name string) (interface{}, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Value returns the value of the named column, or nil if it does not exist.
func (r Row) Value(name string) interface{} {
	v, _ := r.Get(name)
	return v
}

// Has reports whether the named column exists.
func (r Row) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Columns returns the column names in result order.
func (r Row) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Values returns the values in result order.
func (r Row) Values() []interface{} {
	out := make([]interface{}, len(r.values))
	copy(out, r.values)
	return out
}

// Map returns the row as a plain column name to value mapping.
func (r Row) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.columns))
	for i, c := range r.columns {
		out[c] = r.values[i]
	}
	return out
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.columns)
}
