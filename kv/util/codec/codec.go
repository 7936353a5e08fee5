package codec

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

// AppendVarlong appends v to buf in variable-length form, using between one
// and ten bytes. Committed cells store tid=0 which takes a single byte.
func AppendVarlong(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// DecodeVarlong decodes a variable-length integer from the head of buf and
// returns the value and the remaining bytes.
func DecodeVarlong(buf []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, errors.Errorf("insufficient bytes to decode varlong, buf len %d", len(buf))
	}
	return v, buf[n:], nil
}

// AppendBytes appends data length-prefixed to buf.
func AppendBytes(buf, data []byte) []byte {
	buf = AppendVarlong(buf, uint64(len(data)))
	return append(buf, data...)
}

// DecodeBytes decodes a length-prefixed byte slice from the head of buf and
// returns the data and the remaining bytes. The data is copied.
func DecodeBytes(buf []byte) ([]byte, []byte, error) {
	l, rest, err := DecodeVarlong(buf)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if uint64(len(rest)) < l {
		return nil, nil, errors.Errorf("insufficient bytes to decode value, expected %d, got %d", l, len(rest))
	}
	data := append([]byte{}, rest[:l]...)
	return data, rest[l:], nil
}
