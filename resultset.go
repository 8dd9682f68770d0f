package comysql

import "fmt"

// Rows is a lazy, single-pass sequence of rows from an open query
// (spec.md §4.6). It holds no buffered rows: each Next reads exactly one
// row packet.
type Rows struct {
	conn    *Conn
	fields  []Field
	current []any
	done    bool
	closed  bool
}

// Fields returns the column descriptors for this result set.
func (r *Rows) Fields() []Field { return r.fields }

// Next advances to the next row, decoding it into native scalars
// (spec.md §4.7). It returns false (with a nil error) once the result set
// is exhausted, at which point the Conn transitions back to idle
// (spec.md §4.6).
func (r *Rows) Next() (bool, error) {
	if r.closed {
		return false, newProgrammingError("Rows.Next", "result set is already closed")
	}
	if r.done {
		return false, nil
	}

	data, err := r.conn.readPacket()
	if err != nil {
		r.done = true
		return false, err
	}

	if data[0] == iEOF && len(data) < 9 {
		r.done = true
		r.conn.setState(stateIdle)
		r.conn.activeRows = nil
		return false, nil
	}
	if data[0] == iErr {
		r.done = true
		r.conn.setState(stateIdle)
		r.conn.activeRows = nil
		f := r.conn.parseErrPacket(data)
		return false, &ClientCommandError{Number: f.Number, SQLState: f.SQLState, Message: f.Message}
	}

	row := make([]any, len(r.fields))
	b := &buffer{buf: data, position: 0, limit: len(data)}
	for i := range r.fields {
		raw, isNull, err := b.readLengthCodedString()
		if err != nil {
			r.done = true
			err := &PacketReadError{ConnID: r.conn.id.String(), Err: fmt.Errorf("%w: short row", ErrMalformedPacket)}
			r.conn.fatal(err)
			return false, err
		}
		if isNull {
			row[i] = nil
			continue
		}
		v, err := decodeValue(raw, r.fields[i], r.conn.cfg.UseUnicode)
		if err != nil {
			row[i] = raw
			continue
		}
		row[i] = v
	}

	if r.conn.metrics != nil {
		r.conn.metrics.rowsTotal.Inc()
	}

	r.current = row
	return true, nil
}

// Scan copies the current row's decoded values into dest, which must have
// one element per column. Each element must be a *any, which receives the
// decoded value without conversion (simple copy semantics are enough for
// this façade; numeric/string conversion policy belongs to the database
// API layer this core treats as an external collaborator, spec.md §1).
func (r *Rows) Scan(dest ...any) error {
	if r.current == nil {
		return newProgrammingError("Rows.Scan", "no current row; call Next first")
	}
	if len(dest) != len(r.current) {
		return fmt.Errorf("comysql: Scan expects %d destinations, got %d", len(r.current), len(dest))
	}
	for i, v := range r.current {
		ptr, ok := dest[i].(*any)
		if !ok {
			return fmt.Errorf("comysql: Scan destination %d must be *any", i)
		}
		*ptr = v
	}
	return nil
}

// Close releases the result set. It is only valid once end-of-stream has
// been reached; otherwise it raises ClientProgrammingError, because
// silently swallowing an unknown number of unread rows would desynchronize
// the connection's packet sequence (spec.md §4.6).
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	if !r.done {
		return newProgrammingError("Rows.Close", "result set has not been fully drained; call Next until it returns false, or close the Conn")
	}
	r.closed = true
	return nil
}

// Drain reads and discards any remaining rows, then closes the result set.
// It is a convenience for callers that want to abandon a partially-read
// result set without hand-rolling the Next loop (the behavior
// BufferedReader.read_bytes_available gives the byte layer in
// original_source/lib/geventmysql/buffered.py, lifted to the row layer).
func (r *Rows) Drain() error {
	for !r.done {
		if _, err := r.Next(); err != nil {
			return err
		}
	}
	return r.Close()
}
