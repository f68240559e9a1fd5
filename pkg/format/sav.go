package format

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/pkg/errors"
)

// SAV reads SPSS system files, uncompressed or bytecode compressed.
type SAV struct{}

func NewSAV() *SAV { return &SAV{} }

func (*SAV) Type() string { return "sav" }

func (*SAV) Detect(data []byte) bool { return bytes.HasPrefix(data, savMagic) }

const (
	savHeaderLen    = 176
	savCompressNone = 0
	savCompressByte = 1
)

var savSysmis = -math.MaxFloat64

type savVar struct {
	name  string
	width int // 0 for numeric
	slots int
}

type savFile struct {
	order       binary.ByteOrder
	compression int32
	ncases      int32
	bias        float64
	vars        []*savVar
	longNames   map[string]string
}

func (*SAV) Parse(ctx context.Context, data []byte) (*rowset.RowSet, error) {
	if len(data) < savHeaderLen {
		return nil, errors.New("truncated header")
	}
	f := &savFile{order: binary.LittleEndian}
	if layout := f.order.Uint32(data[64:68]); layout != 2 && layout != 3 {
		f.order = binary.BigEndian
		if layout = f.order.Uint32(data[64:68]); layout != 2 && layout != 3 {
			return nil, errors.Errorf("unknown layout code %d", layout)
		}
	}
	f.compression = int32(f.order.Uint32(data[72:76]))
	f.ncases = int32(f.order.Uint32(data[80:84]))
	f.bias = math.Float64frombits(f.order.Uint64(data[84:92]))

	r := &savCursor{data: data, pos: savHeaderLen, order: f.order}
	if err := f.readDictionary(r); err != nil {
		return nil, err
	}
	if len(f.vars) == 0 {
		return nil, errors.New("file declares no variables")
	}

	var slots slotReader
	switch f.compression {
	case savCompressNone:
		slots = &rawSlots{cur: r}
	case savCompressByte:
		slots = &bytecodeSlots{cur: r, bias: f.bias, ci: 8}
	default:
		return nil, errors.Errorf("compression mode %d is not supported", f.compression)
	}

	var cases [][]interface{}
	for f.ncases < 0 || len(cases) < int(f.ncases) {
		if len(cases)%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := f.readCase(slots)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "case %d", len(cases)+1)
		}
		cases = append(cases, row)
	}
	return f.rowSet(cases)
}

func (f *savFile) readDictionary(r *savCursor) error {
	var last *savVar
	for {
		recType, err := r.int32()
		if err != nil {
			return errors.Wrap(err, "reading dictionary")
		}
		switch recType {
		case 2:
			v, err := r.variable()
			if err != nil {
				return errors.Wrap(err, "reading variable record")
			}
			if v == nil {
				if last == nil {
					return errors.New("continuation record without a string variable")
				}
				last.slots++
				continue
			}
			f.vars = append(f.vars, v)
			last = v
		case 3:
			if err := r.skipValueLabels(); err != nil {
				return errors.Wrap(err, "reading value labels")
			}
		case 6:
			n, err := r.int32()
			if err != nil {
				return err
			}
			if err := r.skip(int(n) * 80); err != nil {
				return errors.Wrap(err, "reading document record")
			}
		case 7:
			subtype, err := r.int32()
			if err != nil {
				return err
			}
			size, err := r.int32()
			if err != nil {
				return err
			}
			count, err := r.int32()
			if err != nil {
				return err
			}
			body, err := r.take(int(size) * int(count))
			if err != nil {
				return errors.Wrapf(err, "reading extension record %d", subtype)
			}
			if subtype == 13 {
				f.longNames = parseLongNames(body)
			}
		case 999:
			_, err := r.int32()
			return err
		default:
			return errors.Errorf("unexpected record type %d at offset %d", recType, r.pos-4)
		}
	}
}

func (f *savFile) readCase(slots slotReader) ([]interface{}, error) {
	row := make([]interface{}, len(f.vars))
	for i, v := range f.vars {
		first, err := slots.next()
		if err != nil {
			if err == io.EOF && i > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if v.width == 0 {
			x := math.Float64frombits(f.order.Uint64(first[:]))
			if x == savSysmis {
				row[i] = nil
			} else {
				row[i] = x
			}
			continue
		}
		buf := make([]byte, 0, v.slots*8)
		buf = append(buf, first[:]...)
		for s := 1; s < v.slots; s++ {
			more, err := slots.next()
			if err != nil {
				if err == io.EOF {
					return nil, io.ErrUnexpectedEOF
				}
				return nil, err
			}
			buf = append(buf, more[:]...)
		}
		if len(buf) > v.width {
			buf = buf[:v.width]
		}
		if s := strings.TrimRight(string(buf), " \x00"); s != "" {
			row[i] = s
		}
	}
	return row, nil
}

func (f *savFile) rowSet(cases [][]interface{}) (*rowset.RowSet, error) {
	raw := make([]string, len(f.vars))
	schema := make([]rowset.Field, len(f.vars))
	for i, v := range f.vars {
		raw[i] = v.name
		if long, ok := f.longNames[strings.ToUpper(v.name)]; ok {
			raw[i] = long
		}
	}
	names := rowset.NormalizeHeader(raw)
	for i, v := range f.vars {
		schema[i] = rowset.Field{Name: names[i], Type: rowset.String}
		if v.width == 0 {
			schema[i].Type = numericType(cases, i)
		}
	}
	for _, row := range cases {
		for i := range f.vars {
			if x, ok := row[i].(float64); ok && schema[i].Type == rowset.Int {
				row[i] = int64(x)
			}
		}
	}
	return rowset.New(schema, cases)
}

// numericType narrows a numeric variable to Int when every value is integral.
func numericType(cases [][]interface{}, i int) rowset.FieldType {
	for _, row := range cases {
		x, ok := row[i].(float64)
		if !ok {
			continue
		}
		if x != math.Trunc(x) || math.Abs(x) > 1<<53 {
			return rowset.Float
		}
	}
	return rowset.Int
}

func parseLongNames(body []byte) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(string(body), "\t") {
		short, long, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(short))] = strings.TrimSpace(long)
	}
	return out
}

type savCursor struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

func (c *savCursor) take(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.data) {
		return nil, io.ErrUnexpectedEOF
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *savCursor) skip(n int) error {
	_, err := c.take(n)
	return err
}

func (c *savCursor) int32() (int32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return int32(c.order.Uint32(b)), nil
}

// variable reads a type 2 record body. It returns nil for the
// continuation records that extend a long string variable.
func (c *savCursor) variable() (*savVar, error) {
	var fields [5]int32
	for i := range fields {
		v, err := c.int32()
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	typ, hasLabel, nMissing := fields[0], fields[1], fields[2]
	name, err := c.take(8)
	if err != nil {
		return nil, err
	}
	if hasLabel == 1 {
		n, err := c.int32()
		if err != nil {
			return nil, err
		}
		if err := c.skip(int(n+3) / 4 * 4); err != nil {
			return nil, err
		}
	}
	if nMissing < 0 {
		nMissing = -nMissing
	}
	if err := c.skip(int(nMissing) * 8); err != nil {
		return nil, err
	}
	if typ < 0 {
		return nil, nil
	}
	return &savVar{
		name:  strings.TrimRight(string(name), " "),
		width: int(typ),
		slots: 1,
	}, nil
}

func (c *savCursor) skipValueLabels() error {
	n, err := c.int32()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		if err := c.skip(8); err != nil {
			return err
		}
		l, err := c.take(1)
		if err != nil {
			return err
		}
		// label length byte plus text, padded to a multiple of 8
		if err := c.skip((int(l[0])+8)/8*8 - 1); err != nil {
			return err
		}
	}
	recType, err := c.int32()
	if err != nil {
		return err
	}
	if recType != 4 {
		return errors.Errorf("value labels followed by record type %d", recType)
	}
	count, err := c.int32()
	if err != nil {
		return err
	}
	return c.skip(int(count) * 4)
}

type slotReader interface {
	next() ([8]byte, error)
}

type rawSlots struct {
	cur *savCursor
}

func (s *rawSlots) next() ([8]byte, error) {
	var out [8]byte
	if s.cur.pos == len(s.cur.data) {
		return out, io.EOF
	}
	b, err := s.cur.take(8)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

type bytecodeSlots struct {
	cur  *savCursor
	bias float64
	cmds [8]byte
	ci   int
	done bool
}

func (s *bytecodeSlots) next() ([8]byte, error) {
	var out [8]byte
	for !s.done {
		if s.ci == 8 {
			if s.cur.pos == len(s.cur.data) {
				s.done = true
				break
			}
			b, err := s.cur.take(8)
			if err != nil {
				return out, err
			}
			copy(s.cmds[:], b)
			s.ci = 0
		}
		code := s.cmds[s.ci]
		s.ci++
		switch {
		case code == 0:
			continue
		case code == 252:
			s.done = true
		case code == 253:
			b, err := s.cur.take(8)
			if err != nil {
				return out, err
			}
			copy(out[:], b)
			return out, nil
		case code == 254:
			copy(out[:], "        ")
			return out, nil
		case code == 255:
			s.cur.order.PutUint64(out[:], math.Float64bits(savSysmis))
			return out, nil
		default:
			s.cur.order.PutUint64(out[:], math.Float64bits(float64(code)-s.bias))
			return out, nil
		}
	}
	return out, io.EOF
}
