package comysql

import (
	"unicode/utf8"
)

// Charset/type decoder (spec.md §4.7): maps a MySQL collation id to a Go
// decode function. Only the minimum table spec.md names is carried;
// unknown charsets fall back to raw bytes.
//
// Collation ids below are the default collation's id for each named
// charset, matching the values MySQL's information_schema.COLLATIONS
// assigns (latin1_swedish_ci=8, utf8_general_ci=33, ascii_general_ci=11,
// cp1250_general_ci=26, binary=63). A connection negotiates one of these
// during the handshake (spec.md §4.5); this table only needs to tell
// "decode as text" from "leave as bytes", so one representative id per
// charset family is enough to exercise it — most servers send one of
// these for any given charset choice.
var charsetDecoders = map[uint16]func([]byte) string{
	8:  decodeLatin1,
	33: decodeUTF8,
	11: decodeASCII,
	26: decodeCP1250,
	63: nil, // binary: never decoded, see decodeCharset
}

func decodeCharset(raw []byte, charsetID uint16) string {
	if charsetID == 63 {
		// binary: no decoding, but the caller asked for a string form.
		return string(raw)
	}
	if dec, ok := charsetDecoders[charsetID]; ok && dec != nil {
		return dec(raw)
	}
	// Unknown charset: fall back to bytes reinterpreted as-is.
	return string(raw)
}

func decodeUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	// Replace invalid sequences rather than losing data silently.
	return string([]rune(string(raw)))
}

func decodeASCII(raw []byte) string {
	return string(raw)
}

// decodeLatin1 converts ISO-8859-1 bytes to UTF-8: every byte maps
// directly to the Unicode code point of the same value.
func decodeLatin1(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

// decodeCP1250 converts Windows-1250 bytes to UTF-8: bytes 0x00-0x7F are
// ASCII, bytes 0x80-0xFF are looked up in cp1250HighRunes (the five
// unassigned positions map to the C1 control of the same value).
var cp1250HighRunes = [128]rune{
	0x20AC, 0x0081, 0x201A, 0x0083, 0x201E, 0x2026, 0x2020, 0x2021,
	0x0088, 0x2030, 0x0160, 0x2039, 0x015A, 0x0164, 0x017D, 0x0179,
	0x0090, 0x2018, 0x2019, 0x201C, 0x201D, 0x2022, 0x2013, 0x2014,
	0x0098, 0x2122, 0x0161, 0x203A, 0x015B, 0x0165, 0x017E, 0x017A,
	0x00A0, 0x02C7, 0x02D8, 0x0141, 0x00A4, 0x0104, 0x00A6, 0x00A7,
	0x00A8, 0x00A9, 0x015E, 0x00AB, 0x00AC, 0x00AD, 0x00AE, 0x017B,
	0x00B0, 0x00B1, 0x02DB, 0x0142, 0x00B4, 0x00B5, 0x00B6, 0x00B7,
	0x00B8, 0x0105, 0x015F, 0x00BB, 0x013D, 0x02DD, 0x013E, 0x017C,
	0x0154, 0x00C1, 0x00C2, 0x0102, 0x00C4, 0x0139, 0x0106, 0x00C7,
	0x010C, 0x00C9, 0x0118, 0x00CB, 0x011A, 0x00CD, 0x00CE, 0x010E,
	0x0110, 0x0143, 0x0147, 0x00D3, 0x00D4, 0x0150, 0x00D6, 0x00D7,
	0x0158, 0x016E, 0x00DA, 0x0170, 0x00DC, 0x00DD, 0x0162, 0x00DF,
	0x0155, 0x00E1, 0x00E2, 0x0103, 0x00E4, 0x013A, 0x0107, 0x00E7,
	0x010D, 0x00E9, 0x0119, 0x00EB, 0x011B, 0x00ED, 0x00EE, 0x010F,
	0x0111, 0x0144, 0x0148, 0x00F3, 0x00F4, 0x0151, 0x00F6, 0x00F7,
	0x0159, 0x016F, 0x00FA, 0x0171, 0x00FC, 0x00FD, 0x0163, 0x02D9,
}

func decodeCP1250(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		if b >= 0x80 {
			runes[i] = cp1250HighRunes[b-0x80]
		} else {
			runes[i] = rune(b)
		}
	}
	return string(runes)
}
