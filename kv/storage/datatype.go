package storage

import (
	"github.com/pingcap/errors"

	"github.com/veradb/veradb/kv/util/codec"
)

// DataType describes how map keys and values are serialized. The transaction
// core treats values as opaque; callers supply the descriptor matching the
// column layout of the map.
type DataType interface {
	Write(buf []byte, v interface{}) []byte
	Read(buf []byte) (interface{}, []byte, error)
	// ReadMeta reads only the meta columns of a row. Types without a column
	// structure read the whole value.
	ReadMeta(buf []byte, colCount int) (interface{}, []byte, error)
}

// StringType serializes plain string values.
type StringType struct{}

func (StringType) Write(buf []byte, v interface{}) []byte {
	return codec.AppendBytes(buf, []byte(v.(string)))
}

func (StringType) Read(buf []byte) (interface{}, []byte, error) {
	data, rest, err := codec.DecodeBytes(buf)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return string(data), rest, nil
}

func (t StringType) ReadMeta(buf []byte, colCount int) (interface{}, []byte, error) {
	return t.Read(buf)
}

// BytesType serializes raw byte slices.
type BytesType struct{}

func (BytesType) Write(buf []byte, v interface{}) []byte {
	return codec.AppendBytes(buf, v.([]byte))
}

func (BytesType) Read(buf []byte) (interface{}, []byte, error) {
	data, rest, err := codec.DecodeBytes(buf)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return data, rest, nil
}

func (t BytesType) ReadMeta(buf []byte, colCount int) (interface{}, []byte, error) {
	return t.Read(buf)
}
