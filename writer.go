package msqlsrv

import (
	"errors"
	"fmt"
	"time"
)

// errWriterFinished is returned when a writer object is used after it has
// already emitted its terminal packet (§9, "writer linear use").
var errWriterFinished = errors.New("msqlsrv: writer already finished")

type rowMode int

const (
	rowModeText rowMode = iota
	rowModeBinary
)

// InitWriter is handed to Handler.OnInit; it must be resolved with exactly
// one of OK or Error.
type InitWriter struct {
	conn *Conn
	done bool
}

func (w *InitWriter) OK() error {
	if w.done {
		return errWriterFinished
	}
	w.done = true
	return w.conn.framer.writePacket(encodeOKPacket(0, 0, w.conn.okStatus(), 0, false))
}

func (w *InitWriter) Error(kind ErrorKind, msg string) error {
	if w.done {
		return errWriterFinished
	}
	w.done = true
	return w.conn.framer.writePacket(encodeErrPacket(kind, msg))
}

// StatementMetaWriter is handed to Handler.OnPrepare for the error path:
// when a prepare request cannot be satisfied, the handler writes an error
// through it instead of returning column metadata.
type StatementMetaWriter struct {
	conn *Conn
	done bool
}

func (w *StatementMetaWriter) Error(kind ErrorKind, msg string) error {
	if w.done {
		return errWriterFinished
	}
	w.done = true
	return w.conn.framer.writePacket(encodeErrPacket(kind, msg))
}

// QueryResultWriter is handed to Handler.OnQuery and Handler.OnExecute. The
// handler must resolve it exactly one way: Completed, Error, or Start
// followed by driving the returned RowWriter to completion.
type QueryResultWriter struct {
	conn *Conn
	mode rowMode
	done bool
}

// Completed signals a command that affected rows but returns none, such as
// an INSERT or UPDATE (§8 scenario 4).
func (w *QueryResultWriter) Completed(affectedRows, lastInsertID uint64) error {
	if w.done {
		return errWriterFinished
	}
	w.done = true
	return w.conn.framer.writePacket(encodeOKPacket(affectedRows, lastInsertID, w.conn.okStatus(), 0, false))
}

// Error signals a failure before any result-set header has been written.
func (w *QueryResultWriter) Error(kind ErrorKind, msg string) error {
	if w.done {
		return errWriterFinished
	}
	w.done = true
	return w.conn.framer.writePacket(encodeErrPacket(kind, msg))
}

// Start begins a result set: it emits the column-count header and one
// column-definition packet per column (plus a legacy EOF if the client
// didn't negotiate CLIENT_DEPRECATE_EOF), then returns a RowWriter to
// stream rows through.
func (w *QueryResultWriter) Start(columns []Column) (*RowWriter, error) {
	if w.done {
		return nil, errWriterFinished
	}
	w.done = true
	return w.conn.startResultSet(columns, w.mode)
}

// RowWriter streams the rows of one result set. Cells must be written in
// column order; EndRow (or WriteRow) must be called after exactly
// len(columns) cells have been written via WriteCol.
type RowWriter struct {
	conn    *Conn
	columns []Column
	mode    rowMode
	cursor  int
	cells   []any
	poisoned bool
	done    bool
}

// WriteCol appends one cell to the row currently being built. v may be nil
// (SQL NULL) or any Go value convertible to the declared column's wire
// type: integers, floats, string/[]byte, time.Time (DATE/DATETIME/
// TIMESTAMP columns) or time.Duration (TIME columns).
func (rw *RowWriter) WriteCol(v any) error {
	if rw.done {
		return errWriterFinished
	}
	if len(rw.columns) == 0 {
		return fmt.Errorf("msqlsrv: result set declared zero columns; no cells can be written")
	}
	if rw.cursor >= len(rw.columns) {
		rw.poisoned = true
		return fmt.Errorf("msqlsrv: row already has %d cells (declared %d columns)", rw.cursor, len(rw.columns))
	}
	rw.cells = append(rw.cells, v)
	rw.cursor++
	return nil
}

// WriteRow is shorthand for calling WriteCol once per value followed by
// EndRow.
func (rw *RowWriter) WriteRow(values ...any) error {
	for _, v := range values {
		if err := rw.WriteCol(v); err != nil {
			return err
		}
	}
	return rw.EndRow()
}

// EndRow flushes the accumulated cells as one row packet and resets the
// cursor for the next row. With zero declared columns, EndRow is a no-op:
// per §4.E, a zero-column result set must produce zero observable rows no
// matter what the shim attempts.
func (rw *RowWriter) EndRow() error {
	if rw.done {
		return errWriterFinished
	}
	if len(rw.columns) == 0 {
		rw.cells = rw.cells[:0]
		rw.cursor = 0
		return nil
	}
	if rw.poisoned || rw.cursor != len(rw.columns) {
		rw.poisoned = true
		return fmt.Errorf("msqlsrv: row has %d cells, want %d", rw.cursor, len(rw.columns))
	}

	var payload []byte
	var err error
	switch rw.mode {
	case rowModeText:
		payload, err = encodeTextRow(rw.columns, rw.cells)
	case rowModeBinary:
		payload, err = encodeBinaryRow(rw.columns, rw.cells)
	}
	if err != nil {
		rw.poisoned = true
		return err
	}
	if err := rw.conn.framer.writePacket(payload); err != nil {
		rw.poisoned = true
		return err
	}

	rw.cells = rw.cells[:0]
	rw.cursor = 0
	return nil
}

// Finish terminates the result set: an OK-shaped terminator if
// CLIENT_DEPRECATE_EOF was negotiated, otherwise a legacy EOF packet.
func (rw *RowWriter) Finish() error {
	if rw.done {
		return errWriterFinished
	}
	rw.done = true
	return rw.conn.framer.writePacket(rw.conn.terminatorPacket(rw.conn.okStatus()))
}

// FinishOne terminates the current result set with SERVER_MORE_RESULTS_EXISTS
// set and returns a fresh QueryResultWriter for the next result set in a
// multi-statement reply (§8 scenario 5).
func (rw *RowWriter) FinishOne() (*QueryResultWriter, error) {
	if rw.done {
		return nil, errWriterFinished
	}
	rw.done = true
	status := rw.conn.okStatus() | statusMoreResultsExists
	if err := rw.conn.framer.writePacket(rw.conn.terminatorPacket(status)); err != nil {
		return nil, err
	}
	return &QueryResultWriter{conn: rw.conn, mode: rw.mode}, nil
}

// FinishError emits an ERR packet in place of the terminator. No further
// rows may be written after this call.
func (rw *RowWriter) FinishError(kind ErrorKind, msg string) error {
	if rw.done {
		return errWriterFinished
	}
	rw.done = true
	return rw.conn.framer.writePacket(encodeErrPacket(kind, msg))
}

// startResultSet writes the column-count header, column defs, and (if
// needed) the pre-deprecate-EOF separator, returning the RowWriter that
// streams the rows.
func (c *Conn) startResultSet(columns []Column, mode rowMode) (*RowWriter, error) {
	header := putLenEncInt(nil, uint64(len(columns)))
	if err := c.framer.writePacket(header); err != nil {
		return nil, err
	}
	for _, col := range columns {
		if err := c.framer.writePacket(encodeColumnDef(col)); err != nil {
			return nil, err
		}
	}
	if !c.negotiated.has(capDeprecateEOF) && len(columns) > 0 {
		if err := c.framer.writePacket(encodeEOFPacket(c.okStatus(), 0)); err != nil {
			return nil, err
		}
	}
	return &RowWriter{conn: c, columns: columns, mode: mode}, nil
}

// terminatorPacket renders the result-set terminator appropriate to what
// was negotiated with the client.
func (c *Conn) terminatorPacket(status serverStatusFlag) []byte {
	if c.negotiated.has(capDeprecateEOF) {
		return encodeOKPacket(0, 0, status, 0, true)
	}
	return encodeEOFPacket(status, 0)
}

// okStatus is the default status flags this library reports on OK/EOF
// packets: autocommit, nothing fancier (no explicit transaction tracking —
// query semantics are the application's concern).
func (c *Conn) okStatus() serverStatusFlag {
	return statusAutocommit
}

func encodeTextRow(columns []Column, cells []any) ([]byte, error) {
	buf := make([]byte, 0, 32*len(columns))
	for _, v := range cells {
		if v == nil {
			buf = append(buf, lenencNull)
			continue
		}
		buf = putLenEncString(buf, []byte(textRepr(v)))
	}
	return buf, nil
}

func encodeBinaryRow(columns []Column, cells []any) ([]byte, error) {
	n := len(columns)
	bitmapLen := (n + 7 + 2) / 8
	buf := make([]byte, 1+bitmapLen)
	buf[0] = 0x00
	bitmap := buf[1:]

	values := make([][]byte, n)
	for i, v := range cells {
		if v == nil {
			bitOffset := i + 2
			bitmap[bitOffset/8] |= 1 << uint(bitOffset%8)
			continue
		}
		enc, err := encodeBinaryValue(columns[i], v)
		if err != nil {
			return nil, fmt.Errorf("msqlsrv: column %q: %w", columns[i].Name, err)
		}
		values[i] = enc
	}
	for _, v := range values {
		buf = append(buf, v...)
	}
	return buf, nil
}

func encodeBinaryValue(col Column, v any) ([]byte, error) {
	var buf []byte
	switch col.Type {
	case TypeTiny:
		if i, ok := toInt64(v); ok {
			return append(buf, byte(int8(i))), nil
		}
		if u, ok := toUint64(v); ok {
			return append(buf, byte(u)), nil
		}
	case TypeShort, TypeYear:
		if i, ok := toInt64(v); ok {
			return appendUint16(buf, uint16(int16(i))), nil
		}
		if u, ok := toUint64(v); ok {
			return appendUint16(buf, uint16(u)), nil
		}
	case TypeLong, TypeInt24:
		if i, ok := toInt64(v); ok {
			return appendUint32(buf, uint32(int32(i))), nil
		}
		if u, ok := toUint64(v); ok {
			return appendUint32(buf, uint32(u)), nil
		}
	case TypeLongLong:
		if i, ok := toInt64(v); ok {
			return appendUint64(buf, uint64(i)), nil
		}
		if u, ok := toUint64(v); ok {
			return appendUint64(buf, u), nil
		}
	case TypeFloat:
		switch f := v.(type) {
		case float32:
			return putFloat32(buf, f), nil
		case float64:
			return putFloat32(buf, float32(f)), nil
		}
	case TypeDouble:
		switch f := v.(type) {
		case float64:
			return putFloat64(buf, f), nil
		case float32:
			return putFloat64(buf, float64(f)), nil
		}
	case TypeDate, TypeDateTime, TypeTimestamp:
		if t, ok := v.(time.Time); ok {
			return putBinaryDate(buf, timeToBinaryDate(t)), nil
		}
	case TypeTime:
		if d, ok := v.(time.Duration); ok {
			return putBinaryTime(buf, durationToBinaryTime(d)), nil
		}
	case TypeVarChar, TypeVarString, TypeString, TypeBlob, TypeTinyBlob,
		TypeMediumBlob, TypeLongBlob, TypeDecimal, TypeNewDecimal, TypeJSON, TypeBit:
		switch s := v.(type) {
		case string:
			return putLenEncString(buf, []byte(s)), nil
		case []byte:
			return putLenEncString(buf, s), nil
		default:
			return putLenEncString(buf, []byte(textRepr(v))), nil
		}
	}
	return nil, fmt.Errorf("cannot encode Go value %T as wire type 0x%02x", v, byte(col.Type))
}
