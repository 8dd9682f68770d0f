package comysql

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRawPacket writes one physical MySQL packet (header + payload) to
// conn, the way a fake server stands in for the real thing in these tests.
func writeRawPacket(t *testing.T, conn net.Conn, seq byte, payload []byte) {
	t.Helper()
	hdr := []byte{byte(len(payload)), byte(len(payload) >> 8), byte(len(payload) >> 16), seq}
	if _, err := conn.Write(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			t.Fatalf("write payload: %v", err)
		}
	}
}

// fieldPacketBytes builds a minimal Protocol::ColumnDefinition41 payload
// for one column, enough for parseFieldPacket to round-trip.
func fieldPacketBytes(name string, typ fieldType) []byte {
	var b []byte
	b = appendLengthCodedBinary(b, 3) // catalog "def"
	b = append(b, "def"...)
	b = appendLengthCodedBinary(b, 0) // schema
	b = appendLengthCodedBinary(b, 0) // table
	b = appendLengthCodedBinary(b, 0) // org_table
	b = appendLengthCodedBinary(b, uint64(len(name)))
	b = append(b, name...)
	b = appendLengthCodedBinary(b, uint64(len(name)))
	b = append(b, name...) // org_name
	b = append(b, 0x0c)    // filler length (12 bytes follow)
	b = append(b, 33, 0)   // charset utf8_general_ci
	b = append(b, 10, 0, 0, 0) // column length
	b = append(b, byte(typ))
	b = append(b, 0, 0) // flags
	b = append(b, 0)    // decimals
	b = append(b, 0, 0) // filler
	return b
}

// runSelectOneServer plays the server side of `select 1`: one column
// named "1" of type LONG, one row with value "1", then EOF.
func runSelectOneServer(t *testing.T, server net.Conn) {
	t.Helper()
	go func() {
		// Read the COM_QUERY request and discard it.
		hdr := make([]byte, 4)
		if _, err := readFullHelper(server, hdr); err != nil {
			return
		}
		n := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		body := make([]byte, n)
		readFullHelper(server, body)

		writeRawPacket(t, server, 1, appendLengthCodedBinary(nil, 1)) // column count
		writeRawPacket(t, server, 2, fieldPacketBytes("1", fieldTypeLong))
		writeRawPacket(t, server, 3, []byte{0xfe, 0, 0, 2, 0}) // field EOF
		row := appendLengthCodedBinary(nil, 1)
		row = append(row, '1')
		writeRawPacket(t, server, 4, row)
		writeRawPacket(t, server, 5, []byte{0xfe, 0, 0, 2, 0}) // row EOF
	}()
}

func readFullHelper(conn net.Conn, out []byte) (int, error) {
	total := 0
	for total < len(out) {
		n, err := conn.Read(out[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestQuerySelectOneEndToEnd(t *testing.T) {
	c, server := newTestConn(t)
	runSelectOneServer(t, server)

	res, err := c.Query("select 1")
	require.NoError(t, err)
	require.NotNil(t, res.Rows)
	require.Nil(t, res.OK)

	ok, err := res.Rows.Next()
	require.NoError(t, err)
	require.True(t, ok)

	var v any
	require.NoError(t, res.Rows.Scan(&v))
	assert.Equal(t, int64(1), v)

	ok, err = res.Rows.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, res.Rows.Close())
	assert.Equal(t, stateIdle, c.state)
}

// TestQueryWhileBusyIsRejected covers spec.md §4.5 invariant 3: a second
// command cannot be issued while a result set from a prior command is
// still open.
func TestQueryWhileBusyIsRejected(t *testing.T) {
	c, _ := newTestConn(t)
	c.state = stateStreamingRows

	_, err := c.Query("select 2")
	require.Error(t, err)
	var perr *ClientProgrammingError
	require.ErrorAs(t, err, &perr)
}

// TestRowsCloseBeforeDrainIsRejected covers spec.md §4.6: an unread result
// set must not be silently discarded, since that would desynchronize the
// packet sequence for whatever command comes next.
func TestRowsCloseBeforeDrainIsRejected(t *testing.T) {
	c, server := newTestConn(t)
	runSelectOneServer(t, server)

	res, err := c.Query("select 1")
	require.NoError(t, err)

	err = res.Rows.Close()
	require.Error(t, err)
	var perr *ClientProgrammingError
	require.ErrorAs(t, err, &perr)

	// Consume the rest so the fake server's goroutine finishes its writes
	// before the pipe is closed.
	require.NoError(t, res.Rows.Drain())
}

func TestRowsDrainClosesEvenWithUnreadRows(t *testing.T) {
	c, server := newTestConn(t)
	runSelectOneServer(t, server)

	res, err := c.Query("select 1")
	require.NoError(t, err)

	require.NoError(t, res.Rows.Drain())
	assert.Equal(t, stateIdle, c.state)
}

func TestParseOKPacket(t *testing.T) {
	data := []byte{0x00}
	data = appendLengthCodedBinary(data, 5)  // affected rows
	data = appendLengthCodedBinary(data, 10) // insert id
	data = append(data, 2, 0)                // status
	data = append(data, 0, 0)                // warnings

	ok, err := parseOKPacket(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ok.AffectedRows)
	assert.Equal(t, uint64(10), ok.LastInsertID)
	assert.Equal(t, uint16(2), ok.Status)
}
