package comysql

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowsFields(t *testing.T) {
	c, server := newTestConn(t)
	runSelectOneServer(t, server)

	res, err := c.Query("select 1")
	require.NoError(t, err)
	require.Len(t, res.Rows.Fields(), 1)
	assert.Equal(t, "1", res.Rows.Fields()[0].Name)
	assert.Equal(t, fieldTypeLong, res.Rows.Fields()[0].Type)

	require.NoError(t, res.Rows.Drain())
}

// TestQueryCommandError covers the ERR-packet branch of the result header
// dispatch (spec.md §4.5): a query that the server rejects must surface a
// *ClientCommandError with no Rows or OK attached.
func TestQueryCommandError(t *testing.T) {
	c, server := newTestConn(t)

	go func() {
		hdr := make([]byte, 4)
		readFullHelper(server, hdr)
		n := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		body := make([]byte, n)
		readFullHelper(server, body)

		errPacket := []byte{0xff, 0x44, 0x04, '#'}
		errPacket = append(errPacket, "42S02"...)
		errPacket = append(errPacket, "Table 'x' doesn't exist"...)
		writeRawPacket(t, server, 1, errPacket)
	}()

	res, err := c.Query("select * from x")
	require.Error(t, err)
	assert.Nil(t, res)
	var cerr *ClientCommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, uint16(1092), cerr.Number)
	assert.Equal(t, "42S02", cerr.SQLState)
}

// TestQueryOKResult covers a command (e.g. an UPDATE) that returns OK
// rather than a result set.
func TestQueryOKResult(t *testing.T) {
	c, server := newTestConn(t)

	go func() {
		hdr := make([]byte, 4)
		readFullHelper(server, hdr)
		n := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		body := make([]byte, n)
		readFullHelper(server, body)

		ok := []byte{0x00}
		ok = appendLengthCodedBinary(ok, 1) // affected rows
		ok = appendLengthCodedBinary(ok, 0) // insert id
		ok = append(ok, 2, 0)               // status
		ok = append(ok, 0, 0)               // warnings
		writeRawPacket(t, server, 1, ok)
	}()

	res, err := c.Query("update t set a = 1")
	require.NoError(t, err)
	require.NotNil(t, res.OK)
	assert.Nil(t, res.Rows)
	assert.Equal(t, uint64(1), res.OK.AffectedRows)
	assert.Equal(t, stateIdle, c.state)
}

// buildHandshakeGreeting assembles a minimal Protocol::HandshakeV10 packet
// using mysql_native_password with a 20-byte scramble.
func buildHandshakeGreeting() []byte {
	var b []byte
	b = append(b, 10) // protocol version
	b = append(b, "5.7.30"...)
	b = append(b, 0)
	b = append(b, 1, 0, 0, 0) // thread id
	b = append(b, "12345678"...) // scramble part 1 (8 bytes)
	b = append(b, 0)             // filler
	b = append(b, 0x02, 0x00)    // capabilities lower (CLIENT_FOUND_ROWS irrelevant here; keep simple)
	b = append(b, 33)            // charset
	b = append(b, 2, 0)          // status flags
	b = append(b, 0x08, 0x00)    // capabilities upper (CLIENT_PLUGIN_AUTH bit)
	b = append(b, 21)            // auth-plugin-data-len
	b = append(b, make([]byte, 10)...) // reserved
	b = append(b, "123456789012"...)   // scramble part 2, 12 bytes
	b = append(b, 0)                   // NUL terminator of scramble part 2
	b = append(b, "mysql_native_password"...)
	b = append(b, 0)
	return b
}

func TestHandshakeRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	cfg := newConfig("127.0.0.1", 3306, "root", "secret")
	c := &Conn{
		stream:        newBufferedStream(client, defaultStreamBufSize),
		cfg:           cfg,
		maxPacketSize: cfg.effectiveMaxPacketSize(),
		state:         stateHandshaking,
	}

	go func() {
		writeRawPacket(t, server, 0, buildHandshakeGreeting())

		hdr := make([]byte, 4)
		readFullHelper(server, hdr)
		n := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		readFullHelper(server, make([]byte, n))

		writeRawPacket(t, server, 2, []byte{0x00, 0, 0, 2, 0})
	}()

	err := c.handshake()
	require.NoError(t, err)
	assert.Equal(t, stateIdle, c.state)
}
