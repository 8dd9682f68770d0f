package comysql

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// fieldType is the MySQL column type code (spec.md §4.7).
type fieldType byte

const (
	fieldTypeDecimal    fieldType = 0
	fieldTypeTiny       fieldType = 1
	fieldTypeShort      fieldType = 2
	fieldTypeLong       fieldType = 3
	fieldTypeFloat      fieldType = 4
	fieldTypeDouble     fieldType = 5
	fieldTypeNull       fieldType = 6
	fieldTypeTimestamp  fieldType = 7
	fieldTypeLongLong   fieldType = 8
	fieldTypeInt24      fieldType = 9
	fieldTypeDate       fieldType = 10
	fieldTypeTime       fieldType = 11
	fieldTypeDateTime   fieldType = 12
	fieldTypeYear       fieldType = 13
	fieldTypeNewDate    fieldType = 14
	fieldTypeVarChar    fieldType = 15
	fieldTypeBit        fieldType = 16
	fieldTypeNewDecimal fieldType = 246
	fieldTypeEnum       fieldType = 247
	fieldTypeSet        fieldType = 248
	fieldTypeTinyBLOB   fieldType = 249
	fieldTypeMediumBLOB fieldType = 250
	fieldTypeLongBLOB   fieldType = 251
	fieldTypeBLOB       fieldType = 252
	fieldTypeVarString  fieldType = 253
	fieldTypeString     fieldType = 254
	fieldTypeGeometry   fieldType = 255
)

// fieldFlag mirrors the FIELD_FLAG bits relevant to decoding (spec.md §3).
type fieldFlag uint16

const flagUnsigned fieldFlag = 32
const flagBinary fieldFlag = 128

// Field is a column descriptor, emitted between the column-count packet
// and the first field-EOF marker (spec.md §3).
type Field struct {
	Catalog   string
	Schema    string
	Table     string
	OrgTable  string
	Name      string
	OrgName   string
	Charset   uint16
	Length    uint32
	Type      fieldType
	Flags     fieldFlag
	Decimals  byte
}

// parseFieldPacket decodes one Protocol::ColumnDefinition41 packet
// (spec.md §4.5 field phase).
func parseFieldPacket(data []byte) (Field, error) {
	b := &buffer{buf: data, position: 0, limit: len(data)}
	var f Field

	catalog, _, err := b.readLengthCodedString()
	if err != nil {
		return f, ErrMalformedPacket
	}
	schema, _, err := b.readLengthCodedString()
	if err != nil {
		return f, ErrMalformedPacket
	}
	table, _, err := b.readLengthCodedString()
	if err != nil {
		return f, ErrMalformedPacket
	}
	orgTable, _, err := b.readLengthCodedString()
	if err != nil {
		return f, ErrMalformedPacket
	}
	name, _, err := b.readLengthCodedString()
	if err != nil {
		return f, ErrMalformedPacket
	}
	orgName, _, err := b.readLengthCodedString()
	if err != nil {
		return f, ErrMalformedPacket
	}
	// filler [1 byte, length-coded-integer prefix of the fixed fields below]
	if _, err := b.readByte(); err != nil {
		return f, ErrMalformedPacket
	}
	charset, err := b.readShort()
	if err != nil {
		return f, ErrMalformedPacket
	}
	length, err := b.readInt()
	if err != nil {
		return f, ErrMalformedPacket
	}
	typ, err := b.readByte()
	if err != nil {
		return f, ErrMalformedPacket
	}
	flags, err := b.readShort()
	if err != nil {
		return f, ErrMalformedPacket
	}
	decimals, err := b.readByte()
	if err != nil {
		return f, ErrMalformedPacket
	}

	f.Catalog = string(catalog)
	f.Schema = string(schema)
	f.Table = string(table)
	f.OrgTable = string(orgTable)
	f.Name = string(name)
	f.OrgName = string(orgName)
	f.Charset = charset
	f.Length = length
	f.Type = fieldType(typ)
	f.Flags = fieldFlag(flags)
	f.Decimals = decimals
	return f, nil
}

// zero-value sentinels recognized as NULL per spec.md §4.7.
const zeroDate = "0000-00-00"
const zeroDateTime = "0000-00-00 00:00:00"

// decodeValue converts one raw length-coded string from the text
// resultset protocol into the native scalar named by spec.md §4.7's type
// table. useUnicode controls whether STRING/VAR_STRING/VARCHAR/ENUM/SET
// are decoded via the connection's charset or returned as raw bytes
// ("use_unicode", spec.md §4.7).
func decodeValue(raw []byte, f Field, useUnicode bool) (any, error) {
	s := string(raw)

	switch f.Type {
	case fieldTypeTiny, fieldTypeShort, fieldTypeLong, fieldTypeInt24, fieldTypeYear:
		return parseSignedInt(s)

	case fieldTypeLongLong:
		return parseWideInt(s, f.Flags&flagUnsigned != 0)

	case fieldTypeFloat:
		return parseFloat(s, 32)

	case fieldTypeDouble:
		return parseFloat(s, 64)

	case fieldTypeDecimal, fieldTypeNewDecimal:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("comysql: invalid decimal %q: %w", s, err)
		}
		return d, nil

	case fieldTypeDate, fieldTypeNewDate:
		if s == zeroDate {
			return nil, nil
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("comysql: invalid date %q: %w", s, err)
		}
		return t, nil

	case fieldTypeDateTime, fieldTypeTimestamp:
		if s == zeroDateTime {
			return nil, nil
		}
		layout := "2006-01-02 15:04:05"
		if len(s) > len(zeroDateTime) {
			layout += "." + repeat9(len(s)-len(zeroDateTime)-1)
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return nil, fmt.Errorf("comysql: invalid datetime %q: %w", s, err)
		}
		return t, nil

	case fieldTypeTime:
		return parseSignedDuration(s)

	case fieldTypeNull:
		return nil, nil

	case fieldTypeBLOB, fieldTypeTinyBLOB, fieldTypeMediumBLOB, fieldTypeLongBLOB:
		return raw, nil

	case fieldTypeString, fieldTypeVarString, fieldTypeVarChar, fieldTypeEnum, fieldTypeSet:
		if f.Flags&flagBinary != 0 || !useUnicode {
			return raw, nil
		}
		return decodeCharset(raw, f.Charset), nil

	default:
		return raw, nil
	}
}

func repeat9(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '9'
	}
	return string(b)
}

func parseSignedInt(s string) (int64, error) {
	var v int64
	var neg bool
	i := 0
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		i = 1
	}
	if i == len(s) {
		return 0, fmt.Errorf("comysql: invalid integer %q", s)
	}
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("comysql: invalid integer %q", s)
		}
		v = v*10 + int64(c-'0')
	}
	if neg {
		v = -v
	}
	return v, nil
}

// parseWideInt decodes LONGLONG values (spec.md §4.7): unsigned values
// that don't fit in 63 bits remain representable, here as a uint64 rather
// than overflowing an int64.
func parseWideInt(s string, unsigned bool) (any, error) {
	if !unsigned {
		return parseSignedInt(s)
	}
	var v uint64
	if s == "" {
		return nil, fmt.Errorf("comysql: invalid unsigned integer %q", s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("comysql: invalid unsigned integer %q", s)
		}
		v = v*10 + uint64(c-'0')
	}
	return v, nil
}

func parseFloat(s string, bitSize int) (any, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("comysql: invalid float %q: %w", s, err)
	}
	f, _ := d.Float64()
	if bitSize == 32 {
		return float32(f), nil
	}
	return f, nil
}

// parseSignedDuration decodes TIME values, which may carry a leading '-'
// and exceed 24 hours (spec.md §4.7).
func parseSignedDuration(s string) (time.Duration, error) {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var h, m, sec, frac int
	n, err := fmt.Sscanf(s, "%d:%d:%d.%d", &h, &m, &sec, &frac)
	if n < 3 || (err != nil && n != 3) {
		n2, err2 := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
		if n2 != 3 || err2 != nil {
			return 0, fmt.Errorf("comysql: invalid time %q", s)
		}
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}
