// Package hrpc defines the client-visible operation types and the failure
// taxonomy surfaced by the remote call transport.
package hrpc

import "github.com/wanghsingmin/hbase/region"

// Call is a single-key operation targeting one row of one table. The caller
// routes it to the server owning the region containing Key.
type Call interface {
	Table() []byte
	Key() []byte
	// Name identifies the operation type, for logging.
	Name() string
}

type base struct {
	table []byte
	key   []byte
}

func (b base) Table() []byte { return b.table }
func (b base) Key() []byte   { return b.key }

// Get retrieves the value stored under a row key.
type Get struct {
	base
}

// NewGet returns a Get for the given table and row key.
func NewGet(table, key []byte) *Get {
	return &Get{base{table: table, key: key}}
}

func (*Get) Name() string { return "Get" }

// Put stores a value under a row key.
type Put struct {
	base
	value []byte
}

// NewPut returns a Put writing value under the given table and row key.
func NewPut(table, key, value []byte) *Put {
	return &Put{base: base{table: table, key: key}, value: value}
}

func (p *Put) Value() []byte { return p.value }
func (*Put) Name() string    { return "Put" }

// Delete removes a row.
type Delete struct {
	base
}

// NewDelete returns a Delete for the given table and row key.
func NewDelete(table, key []byte) *Delete {
	return &Delete{base{table: table, key: key}}
}

func (*Delete) Name() string { return "Delete" }

// Append appends a value to the one stored under a row key.
type Append struct {
	base
	value []byte
}

// NewAppend returns an Append of value under the given table and row key.
func NewAppend(table, key, value []byte) *Append {
	return &Append{base: base{table: table, key: key}, value: value}
}

func (a *Append) Value() []byte { return a.value }
func (*Append) Name() string    { return "Append" }

// Increment atomically adds an amount to a counter stored under a row key.
type Increment struct {
	base
	amount int64
}

// NewIncrement returns an Increment of amount under the given table and row
// key.
func NewIncrement(table, key []byte, amount int64) *Increment {
	return &Increment{base: base{table: table, key: key}, amount: amount}
}

func (i *Increment) Amount() int64 { return i.amount }
func (*Increment) Name() string    { return "Increment" }

// Result is the response to a successful Call.
type Result struct {
	Row   []byte
	Value []byte

	// Location, if set, is a fresher location for the region that served the
	// call, piggybacked on the response. The caller inserts it into the
	// location cache.
	Location *region.Location
}

// BatchResult is the per-target outcome of a batched operation. Exactly one
// of Result and Err is set.
type BatchResult struct {
	Result *Result
	Err    error
}
