package format

import (
	"bufio"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"strconv"

	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// TFRecord reads and writes TFRecord files whose records are serialized
// tf.train.Example messages with one scalar feature per column.
//
// Bool columns are written as int64 features and floats as float32, the
// only numeric kinds tf.Example carries. Bools therefore read back as 0/1
// ints, and floats read back as the shortest decimal of their float32, which
// keeps values of up to 7 significant digits exact.
type TFRecord struct{}

func NewTFRecord() *TFRecord { return &TFRecord{} }

func (*TFRecord) Type() string   { return "tfrecord" }
func (*TFRecord) Format() string { return "tfrecord" }

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + 0xa282ead8
}

// tf.train.Example field numbers.
const (
	exampleFeatures   protowire.Number = 1
	featuresFeature   protowire.Number = 1
	mapKey            protowire.Number = 1
	mapValue          protowire.Number = 2
	featureBytesList  protowire.Number = 1
	featureFloatList  protowire.Number = 2
	featureInt64List  protowire.Number = 3
	listValue         protowire.Number = 1
	tfrecordFrameSize                  = 12
)

func (*TFRecord) Detect(data []byte) bool {
	if len(data) < tfrecordFrameSize {
		return false
	}
	return maskedCRC(data[:8]) == binary.LittleEndian.Uint32(data[8:12])
}

func (*TFRecord) Encode(w io.Writer, rs *rowset.RowSet) error {
	bw := bufio.NewWriter(w)
	schema := rs.Schema()
	err := rs.Each(func(i int, row []interface{}) error {
		return writeFrame(bw, encodeExample(schema, row))
	})
	if err != nil {
		return errors.Wrap(err, "writing tfrecord")
	}
	return bw.Flush()
}

func writeFrame(w io.Writer, payload []byte) error {
	var hdr [tfrecordFrameSize]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(hdr[8:], maskedCRC(hdr[:8]))
	var ftr [4]byte
	binary.LittleEndian.PutUint32(ftr[:], maskedCRC(payload))
	for _, b := range [][]byte{hdr[:], payload, ftr[:]} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func encodeExample(schema []rowset.Field, row []interface{}) []byte {
	var features []byte
	for j, f := range schema {
		var entry []byte
		entry = protowire.AppendTag(entry, mapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, f.Name)
		entry = protowire.AppendTag(entry, mapValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, encodeFeature(row[j]))

		features = protowire.AppendTag(features, featuresFeature, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}
	var ex []byte
	ex = protowire.AppendTag(ex, exampleFeatures, protowire.BytesType)
	return protowire.AppendBytes(ex, features)
}

// encodeFeature returns a serialized tf.train.Feature. A nil value is an
// empty Feature with no list set.
func encodeFeature(v interface{}) []byte {
	var (
		list []byte
		kind protowire.Number
	)
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		kind = featureBytesList
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendString(list, x)
	case int64:
		kind = featureInt64List
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, protowire.AppendVarint(nil, uint64(x)))
	case bool:
		var n uint64
		if x {
			n = 1
		}
		kind = featureInt64List
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, protowire.AppendVarint(nil, n))
	case float64:
		kind = featureFloatList
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, protowire.AppendFixed32(nil, math.Float32bits(float32(x))))
	}
	var feat []byte
	feat = protowire.AppendTag(feat, kind, protowire.BytesType)
	return protowire.AppendBytes(feat, list)
}

func (*TFRecord) Parse(ctx context.Context, data []byte) (*rowset.RowSet, error) {
	var (
		columns []rowset.Field
		index   = make(map[string]int)
		typed   = make(map[string]bool)
		records []map[string]interface{}
	)
	for off := 0; off < len(data); {
		if len(records)%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		payload, n, err := readFrame(data[off:])
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", len(records)+1)
		}
		off += n

		values, err := decodeExample(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", len(records)+1)
		}
		for _, fv := range values {
			j, ok := index[fv.name]
			if !ok {
				j = len(columns)
				index[fv.name] = j
				columns = append(columns, rowset.Field{Name: fv.name, Type: rowset.String})
			}
			if fv.value == nil {
				continue
			}
			if !typed[fv.name] {
				columns[j].Type = fv.typ
				typed[fv.name] = true
			} else if columns[j].Type != fv.typ {
				return nil, errors.Errorf("feature %q changes type in record %d", fv.name, len(records)+1)
			}
		}
		rec := make(map[string]interface{}, len(values))
		for _, fv := range values {
			rec[fv.name] = fv.value
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		row := make([]interface{}, len(columns))
		for j, c := range columns {
			row[j] = rec[c.Name]
		}
		rows[i] = row
	}
	return rowset.New(columns, rows)
}

func readFrame(data []byte) ([]byte, int, error) {
	if len(data) < tfrecordFrameSize {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if maskedCRC(data[:8]) != binary.LittleEndian.Uint32(data[8:12]) {
		return nil, 0, errors.New("length checksum mismatch")
	}
	size := binary.LittleEndian.Uint64(data[:8])
	if size > uint64(len(data)-tfrecordFrameSize-4) {
		return nil, 0, io.ErrUnexpectedEOF
	}
	end := tfrecordFrameSize + int(size)
	payload := data[tfrecordFrameSize:end]
	if maskedCRC(payload) != binary.LittleEndian.Uint32(data[end:end+4]) {
		return nil, 0, errors.New("data checksum mismatch")
	}
	return payload, end + 4, nil
}

type featureValue struct {
	name  string
	typ   rowset.FieldType
	value interface{}
}

// eachField walks the top level fields of a message, handing length
// delimited payloads to fn and skipping everything else.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, payload []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func decodeExample(b []byte) ([]featureValue, error) {
	var out []featureValue
	err := eachField(b, func(num protowire.Number, typ protowire.Type, features []byte) error {
		if num != exampleFeatures || typ != protowire.BytesType {
			return nil
		}
		return eachField(features, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != featuresFeature || typ != protowire.BytesType {
				return nil
			}
			var (
				name    string
				feature []byte
			)
			err := eachField(entry, func(num protowire.Number, typ protowire.Type, v []byte) error {
				switch {
				case num == mapKey && typ == protowire.BytesType:
					name = string(v)
				case num == mapValue && typ == protowire.BytesType:
					feature = v
				}
				return nil
			})
			if err != nil {
				return err
			}
			fv, err := decodeFeature(name, feature)
			if err != nil {
				return err
			}
			out = append(out, fv)
			return nil
		})
	})
	return out, err
}

func decodeFeature(name string, b []byte) (featureValue, error) {
	fv := featureValue{name: name, typ: rowset.String}
	var values []interface{}
	err := eachField(b, func(kind protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch kind {
		case featureBytesList:
			fv.typ = rowset.String
		case featureFloatList:
			fv.typ = rowset.Float
		case featureInt64List:
			fv.typ = rowset.Int
		default:
			return nil
		}
		return eachField(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num != listValue {
				return nil
			}
			switch {
			case kind == featureBytesList && typ == protowire.BytesType:
				values = append(values, string(v))
			case kind == featureInt64List && typ == protowire.BytesType:
				for len(v) > 0 {
					x, n := protowire.ConsumeVarint(v)
					if n < 0 {
						return protowire.ParseError(n)
					}
					values = append(values, int64(x))
					v = v[n:]
				}
			case kind == featureInt64List && typ == protowire.VarintType:
				x, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				values = append(values, int64(x))
			case kind == featureFloatList && typ == protowire.BytesType:
				for len(v) >= 4 {
					values = append(values, widen(math.Float32frombits(binary.LittleEndian.Uint32(v))))
					v = v[4:]
				}
			case kind == featureFloatList && typ == protowire.Fixed32Type:
				values = append(values, widen(math.Float32frombits(binary.LittleEndian.Uint32(v))))
			}
			return nil
		})
	})
	if err != nil {
		return fv, err
	}
	switch len(values) {
	case 0:
	case 1:
		fv.value = values[0]
	default:
		return fv, errors.Errorf("feature %q holds %d values, only scalar features are supported", name, len(values))
	}
	return fv, nil
}

// widen returns the float64 nearest the shortest decimal that round-trips
// f, so 0.1 written as a float feature reads back as 0.1.
func widen(f float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return v
}
