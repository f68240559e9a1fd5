package format

import (
	"bytes"
)

var (
	zipMagic     = []byte("PK\x03\x04")
	oleMagic     = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	savMagic     = []byte("$FL2")
	parquetMagic = []byte("PAR1")
	utf8BOM      = []byte("\xEF\xBB\xBF")
)

const sniffLen = 8192

func hasBinaryMagic(data []byte) bool {
	for _, m := range [][]byte{zipMagic, oleMagic, savMagic, parquetMagic} {
		if bytes.HasPrefix(data, m) {
			return true
		}
	}
	return false
}

// looksLikeText reports whether the leading bytes are plausible delimited
// text. Legacy single-byte encodings are accepted; NUL bytes and known
// binary signatures are not.
func looksLikeText(data []byte) bool {
	if len(data) == 0 || hasBinaryMagic(data) {
		return false
	}
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	return bytes.IndexByte(head, 0) < 0
}

func firstLine(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return data[:i]
	}
	return data
}
