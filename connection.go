package comysql

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
)

// connState is the Conn's position in the state machine of spec.md §4.5.
type connState int

const (
	stateHandshaking connState = iota
	stateIdle
	stateAwaitingHeader
	stateStreamingFields
	stateStreamingRows
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateHandshaking:
		return "handshaking"
	case stateIdle:
		return "idle"
	case stateAwaitingHeader:
		return "awaiting-header"
	case stateStreamingFields:
		return "streaming-fields"
	case stateStreamingRows:
		return "streaming-rows"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Command bytes (subset relevant to this core; spec.md §1 excludes
// COM_STMT_* and replication commands).
const (
	comQuit  byte = 0x01
	comQuery byte = 0x03
	comPing  byte = 0x0e
)

// Server response indicator bytes.
const (
	iOK          byte = 0x00
	iEOF         byte = 0xfe
	iErr         byte = 0xff
	iLocalInFile byte = 0xfb
)

// clientFlag mirrors the CLIENT_* capability bits named in spec.md §6.
type clientFlag uint32

const (
	clientLongPassword  clientFlag = 1
	clientLongFlag      clientFlag = 4
	clientConnectWithDB clientFlag = 8
	clientProtocol41    clientFlag = 512
	clientTransactions  clientFlag = 8192
	clientSecureConn    clientFlag = 32768
	clientPluginAuth    clientFlag = 1 << 19
)

const minProtocolVersion = 10

// Conn is a single MySQL wire-protocol connection. Exactly one command may
// be in flight at a time (spec.md §4.5 invariant 3); it must not be shared
// across goroutines concurrently — ownership matches the "one logical task
// per Connection" contract of spec.md §5. Go's goroutine scheduler already
// provides the cooperative multiplexing the original spec's green-thread
// runtime modeled explicitly: net.Conn's Read/Write are the suspension
// points (spec.md §5), and the runtime's netpoller yields to other
// goroutines while one is blocked on I/O, with no extra plumbing required
// here.
type Conn struct {
	id     uuid.UUID
	stream *bufferedStream
	cfg    *Config

	mu            sync.Mutex
	sequence      byte
	flags         clientFlag
	charset       byte
	maxPacketSize int
	state         connState
	status        uint16
	activeRows    *Rows

	metrics *Metrics
}

func (c *Conn) log() *fieldLogger { return newFieldLogger(c.id.String()) }

// fatal transitions the Conn to closed and logs the triggering error, per
// spec.md §7's "mode updated to closed on any fatal error before the error
// is raised".
func (c *Conn) fatal(err error) {
	c.mu.Lock()
	already := c.state == stateClosed
	c.state = stateClosed
	c.mu.Unlock()
	if !already {
		c.log().withError(err).error("connection closed after fatal error")
		_ = c.stream.close()
	}
}

// requireIdle enforces invariant 3 of spec.md §4.5: a Conn not in idle mode
// must not accept a new command.
func (c *Conn) requireIdle(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return newProgrammingError(op, "connection is closed")
	}
	if c.state != stateIdle {
		return newProgrammingError(op, fmt.Sprintf("connection is busy (state=%s); drain or close the active result first", c.state))
	}
	return nil
}

func (c *Conn) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close ends the connection. It is safe to call on an already-closed Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.mu.Unlock()
	return c.stream.close()
}

// Ping issues COM_PING and waits for the OK response (teacher's
// connection_go18.go Ping, adapted off database/sql/driver.Pinger onto the
// plain state machine).
func (c *Conn) Ping() error {
	if err := c.requireIdle("Ping"); err != nil {
		return err
	}
	c.setState(stateAwaitingHeader)
	c.sequence = 0
	if err := c.writePacket([]byte{comPing}); err != nil {
		return err
	}
	_, err := c.readOKOrErr()
	c.setState(stateIdle)
	return err
}

// writeHandshakeResponse builds and sends the client's handshake response
// packet (spec.md §4.5).
func (c *Conn) writeHandshakeResponse(authResponse []byte, pluginName string, serverCaps clientFlag) error {
	clientFlags := clientLongPassword | clientLongFlag | clientProtocol41 |
		clientTransactions | clientSecureConn | clientPluginAuth
	if c.cfg.DBName != "" {
		clientFlags |= clientConnectWithDB
	}

	var buf bytes.Buffer
	writeUint32(&buf, uint32(clientFlags))
	writeUint32(&buf, 1<<24-1) // max packet size we're willing to receive
	buf.WriteByte(c.charset)
	buf.Write(make([]byte, 23)) // reserved

	buf.WriteString(c.cfg.User)
	buf.WriteByte(0)

	buf.Write(appendLengthCodedBinary(nil, uint64(len(authResponse))))
	buf.Write(authResponse)

	if c.cfg.DBName != "" {
		buf.WriteString(c.cfg.DBName)
		buf.WriteByte(0)
	}

	buf.WriteString(pluginName)
	buf.WriteByte(0)

	return c.writePacket(buf.Bytes())
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}

// handshakeGreeting is the parsed Protocol::HandshakeV10 packet.
type handshakeGreeting struct {
	serverVersion string
	threadID      uint32
	scramble      []byte
	capabilities  clientFlag
	charset       byte
	authPlugin    string
}

func parseHandshakeGreeting(data []byte) (*handshakeGreeting, error) {
	if len(data) < 1 {
		return nil, ErrMalformedPacket
	}
	if data[0] < minProtocolVersion {
		return nil, fmt.Errorf("comysql: unsupported protocol version %d", data[0])
	}

	pos := 1
	end := bytes.IndexByte(data[pos:], 0)
	if end < 0 {
		return nil, ErrMalformedPacket
	}
	serverVersion := string(data[pos : pos+end])
	pos += end + 1

	if pos+4 > len(data) {
		return nil, ErrMalformedPacket
	}
	threadID := uint32(data[pos]) | uint32(data[pos+1])<<8 | uint32(data[pos+2])<<16 | uint32(data[pos+3])<<24
	pos += 4

	if pos+8 > len(data) {
		return nil, ErrMalformedPacket
	}
	scramble := append([]byte{}, data[pos:pos+8]...)
	pos += 8 + 1 // scramble-1 + filler

	if pos+2 > len(data) {
		return nil, ErrMalformedPacket
	}
	capLow := uint32(data[pos]) | uint32(data[pos+1])<<8
	pos += 2

	g := &handshakeGreeting{serverVersion: serverVersion, threadID: threadID}

	if pos < len(data) {
		if pos+1+2+2+1+10 > len(data) {
			return nil, ErrMalformedPacket
		}
		g.charset = data[pos]
		pos += 1 + 2 // charset, status
		capHigh := uint32(data[pos]) | uint32(data[pos+1])<<8
		pos += 2
		authDataLen := int(data[pos])
		pos += 1 + 10 // auth-data-length, reserved

		g.capabilities = clientFlag(capLow | capHigh<<16)

		scramble2Len := authDataLen - 8
		if scramble2Len < 13 {
			scramble2Len = 13
		}
		if pos+scramble2Len > len(data) {
			scramble2Len = len(data) - pos
		}
		scramble2 := data[pos : pos+scramble2Len]
		pos += scramble2Len
		// scramble2 is NUL-terminated; trim trailing NUL(s).
		scramble = append(scramble, bytes.TrimRight(scramble2, "\x00")...)

		if pos < len(data) {
			plugin := data[pos:]
			if i := bytes.IndexByte(plugin, 0); i >= 0 {
				plugin = plugin[:i]
			}
			g.authPlugin = string(plugin)
		}
	} else {
		g.capabilities = clientFlag(capLow)
	}

	g.scramble = scramble
	return g, nil
}

// handshake performs the initial exchange: read the server greeting,
// compute the auth response for the negotiated plugin, send the handshake
// response, and consume the OK/ERR/auth-switch result (spec.md §4.5).
func (c *Conn) handshake() error {
	data, err := c.readPacket()
	if err != nil {
		return err
	}
	if data[0] == iErr {
		le := c.parseErrPacket(data)
		return &ClientLoginError{Number: le.Number, SQLState: le.SQLState, Message: le.Message}
	}

	greeting, err := parseHandshakeGreeting(data)
	if err != nil {
		c.fatal(err)
		return err
	}

	c.charset = c.cfg.effectiveCharsetID()
	plugin := greeting.authPlugin
	if plugin == "" {
		plugin = "mysql_native_password"
	}

	authResp, err := computeAuthResponse(plugin, c.cfg.Password, greeting.scramble)
	if err != nil {
		c.fatal(err)
		return err
	}

	if err := c.writeHandshakeResponse(authResp, plugin, greeting.capabilities); err != nil {
		return err
	}

	return c.finishAuth(plugin, greeting.scramble)
}

// finishAuth consumes the server's reply to the handshake response,
// answering each auth-switch request in turn by calling itself again, with
// no limit on how many switches it follows (spec.md §4.5 only names the
// single-round case explicitly).
func (c *Conn) finishAuth(plugin string, scramble []byte) error {
	data, err := c.readPacket()
	if err != nil {
		return err
	}

	switch data[0] {
	case iOK:
		c.setState(stateIdle)
		return nil
	case iErr:
		le := c.parseErrPacket(data)
		c.setState(stateClosed)
		return &ClientLoginError{Number: le.Number, SQLState: le.SQLState, Message: le.Message}
	case 0xfe: // EOF-coded AuthSwitchRequest
		if len(data) == 1 {
			return fmt.Errorf("comysql: old password authentication is not supported")
		}
		rest := data[1:]
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			return ErrMalformedPacket
		}
		newPlugin := string(rest[:i])
		newScramble := rest[i+1:]

		authResp, err := computeAuthResponse(newPlugin, c.cfg.Password, newScramble)
		if err != nil {
			c.fatal(err)
			return err
		}
		if err := c.writePacket(authResp); err != nil {
			return err
		}
		return c.finishAuth(newPlugin, newScramble)
	default:
		// iAuthMoreData (0x01) and similar plugin-specific continuations
		// are not needed by the plugins this core supports.
		return fmt.Errorf("comysql: unexpected auth continuation byte 0x%02x", data[0])
	}
}

type errPacketFields struct {
	Number   uint16
	SQLState string
	Message  string
}

func (c *Conn) parseErrPacket(data []byte) errPacketFields {
	if len(data) < 3 {
		return errPacketFields{Message: "malformed error packet"}
	}
	number := uint16(data[1]) | uint16(data[2])<<8
	pos := 3
	var sqlState string
	if len(data) > pos && data[pos] == '#' && len(data) >= pos+6 {
		sqlState = string(data[pos+1 : pos+6])
		pos += 6
	}
	return errPacketFields{Number: number, SQLState: sqlState, Message: string(data[pos:])}
}

// readOKOrErr reads one packet expected to be OK or ERR (used by Ping and
// by commands that never return a result set).
func (c *Conn) readOKOrErr() (*OKResult, error) {
	data, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	switch data[0] {
	case iOK:
		return parseOKPacket(data)
	case iErr:
		f := c.parseErrPacket(data)
		return nil, &ClientCommandError{Number: f.Number, SQLState: f.SQLState, Message: f.Message}
	default:
		err := &PacketReadError{ConnID: c.id.String(), Err: fmt.Errorf("%w: expected OK or ERR, got 0x%02x", ErrMalformedPacket, data[0])}
		c.fatal(err)
		return nil, err
	}
}

// OKResult is the decoded OK packet (spec.md §4.5).
type OKResult struct {
	AffectedRows uint64
	LastInsertID uint64
	Status       uint16
	Warnings     uint16
	Info         string
}

func parseOKPacket(data []byte) (*OKResult, error) {
	b := &buffer{buf: data, position: 1, limit: len(data)}
	affected, _, err := b.readLengthCodedBinary()
	if err != nil {
		return nil, ErrMalformedPacket
	}
	insertID, _, err := b.readLengthCodedBinary()
	if err != nil {
		return nil, ErrMalformedPacket
	}
	status, err := b.readShort()
	if err != nil {
		return nil, ErrMalformedPacket
	}
	warnings, err := b.readShort()
	if err != nil {
		// Some servers omit the warning count; tolerate it.
		warnings = 0
	}
	info, _ := b.readBytes(-1)
	return &OKResult{
		AffectedRows: uint64(affected),
		LastInsertID: uint64(insertID),
		Status:       status,
		Warnings:     warnings,
		Info:         string(info),
	}, nil
}

// QueryResult is what Query returns: exactly one of OK or Rows is set
// (spec.md §6).
type QueryResult struct {
	OK   *OKResult
	Rows *Rows
}

// Query issues COM_QUERY and returns either an OK descriptor or a lazily
// streaming Rows (spec.md §4.5, §4.6, §6).
func (c *Conn) Query(sql string) (*QueryResult, error) {
	if err := c.requireIdle("Query"); err != nil {
		return nil, err
	}
	c.setState(stateAwaitingHeader)
	c.sequence = 0

	var stop func()
	if c.metrics != nil {
		stop = startTimer(c.metrics.commandDuration)
	}

	payload := make([]byte, 0, 1+len(sql))
	payload = append(payload, comQuery)
	payload = append(payload, sql...)
	if err := c.writePacket(payload); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.commandsTotal.Inc()
	}

	data, err := c.readPacket()
	if err != nil {
		return nil, err
	}

	switch data[0] {
	case iOK:
		ok, err := parseOKPacket(data)
		c.setState(stateIdle)
		if stop != nil {
			stop()
		}
		return &QueryResult{OK: ok}, err
	case iErr:
		f := c.parseErrPacket(data)
		c.setState(stateIdle)
		if stop != nil {
			stop()
		}
		return nil, &ClientCommandError{Number: f.Number, SQLState: f.SQLState, Message: f.Message}
	case iLocalInFile:
		c.setState(stateIdle)
		if stop != nil {
			stop()
		}
		return nil, fmt.Errorf("comysql: LOAD DATA LOCAL INFILE is not supported")
	default:
		b := &buffer{buf: data, position: 0, limit: len(data)}
		n, _, err := b.readLengthCodedBinary()
		if err != nil {
			err := &PacketReadError{ConnID: c.id.String(), Err: fmt.Errorf("%w: bad column count", ErrMalformedPacket)}
			c.fatal(err)
			return nil, err
		}

		c.setState(stateStreamingFields)
		fields, err := c.readFieldPackets(int(n))
		if err != nil {
			return nil, err
		}
		c.setState(stateStreamingRows)
		rows := &Rows{conn: c, fields: fields}
		c.activeRows = rows
		if stop != nil {
			// The result header and field descriptors are in hand; row
			// streaming duration is the caller's to measure via Rows.
			stop()
		}
		return &QueryResult{Rows: rows}, nil
	}
}

// readFieldPackets reads exactly n field-descriptor packets followed by
// one EOF packet (spec.md §4.5 field phase).
func (c *Conn) readFieldPackets(n int) ([]Field, error) {
	fields := make([]Field, n)
	for i := 0; i < n; i++ {
		data, err := c.readPacket()
		if err != nil {
			return nil, err
		}
		f, err := parseFieldPacket(data)
		if err != nil {
			c.fatal(err)
			return nil, err
		}
		fields[i] = f
	}
	data, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	if data[0] != iEOF {
		err := &PacketReadError{ConnID: c.id.String(), Err: fmt.Errorf("%w: expected field EOF marker", ErrMalformedPacket)}
		c.fatal(err)
		return nil, err
	}
	return fields, nil
}

// readUntilEOF discards packets until an EOF marker is seen (spec.md §4.6).
// Nothing in the package calls it; Rows.Drain drains through Rows.Next.
func (c *Conn) readUntilEOF() error {
	for {
		data, err := c.readPacket()
		if err != nil {
			return err
		}
		if data[0] == iErr {
			f := c.parseErrPacket(data)
			return &ClientCommandError{Number: f.Number, SQLState: f.SQLState, Message: f.Message}
		}
		if data[0] == iEOF && len(data) < 9 {
			return nil
		}
	}
}

// dialTimeout is a small seam so Connect can be unit-tested against
// net.Pipe without a real TCP dialer.
var dialTimeout = net.DialTimeout

func dial(cfg *Config) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return dialTimeout("tcp", addr, cfg.DialTimeout)
}
