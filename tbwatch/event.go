package tbwatch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the event protocol buffer messages that carry scalars.
const (
	eventWallTime = 1
	eventStep     = 2
	eventSummary  = 5

	summaryValue = 1

	valueTag         = 1
	valueSimpleValue = 2
	valueTensor      = 8

	tensorDtype   = 1
	tensorContent = 4
	tensorFloat   = 5
	tensorDouble  = 6
	tensorInt     = 7
	tensorInt64   = 10
	tensorBool    = 11
)

// Tensor dtypes that decode to a scalar.
const (
	dtFloat  = 1
	dtDouble = 2
	dtInt32  = 3
	dtInt64  = 9
	dtBool   = 10
)

// Scalar is one tagged numeric value.
type Scalar struct {
	Tag   string
	Value float64
	// IsInt is true when the value came from an integer tensor. Int then
	// holds the exact value; Value may have lost precision.
	IsInt bool
	Int   int64
	// Float32 is true when the value came from a single-precision field.
	Float32 bool
}

// Event is the subset of an event record this package understands.
type Event struct {
	WallTime float64
	Step     int64
	Scalars  []Scalar
}

var errMalformed = errors.New("malformed event")

// DecodeEvent decodes an event payload. Summary values that are not
// scalars (images, histograms, audio) are skipped.
func DecodeEvent(b []byte) (*Event, error) {
	ev := &Event{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			ev.WallTime = math.Float64frombits(scalar)
		case num == eventStep && typ == protowire.VarintType:
			ev.Step = int64(scalar)
		case num == eventSummary && typ == protowire.BytesType:
			return walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				if num != summaryValue || typ != protowire.BytesType {
					return nil
				}
				s, ok, err := decodeValue(v)
				if err != nil {
					return err
				}
				if ok {
					ev.Scalars = append(ev.Scalars, s)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeValue(b []byte) (Scalar, bool, error) {
	var (
		s      Scalar
		found  bool
		tensor []byte
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
		switch {
		case num == valueTag && typ == protowire.BytesType:
			s.Tag = string(v)
		case num == valueSimpleValue && typ == protowire.Fixed32Type:
			s.Value = float64(math.Float32frombits(uint32(scalar)))
			s.Float32 = true
			found = true
		case num == valueTensor && typ == protowire.BytesType:
			tensor = v
		}
		return nil
	})
	if err != nil {
		return s, false, err
	}
	if !found && tensor != nil {
		found, err = decodeScalarTensor(tensor, &s)
		if err != nil {
			return s, false, err
		}
	}
	return s, found && s.Tag != "", nil
}

// decodeScalarTensor extracts a single numeric value from a tensor,
// reading either the typed value lists or the raw little-endian content.
func decodeScalarTensor(b []byte, s *Scalar) (bool, error) {
	var (
		dtype   uint64
		content []byte
		values  []float64
		ints    []int64
		isInt   bool
		is32    bool
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error {
		switch num {
		case tensorDtype:
			dtype = scalar
		case tensorContent:
			content = v
		case tensorFloat:
			is32 = true
			return eachPacked(typ, v, scalar, protowire.Fixed32Type, func(x uint64) {
				values = append(values, float64(math.Float32frombits(uint32(x))))
			})
		case tensorDouble:
			return eachPacked(typ, v, scalar, protowire.Fixed64Type, func(x uint64) {
				values = append(values, math.Float64frombits(x))
			})
		case tensorInt, tensorInt64, tensorBool:
			isInt = true
			return eachPacked(typ, v, scalar, protowire.VarintType, func(x uint64) {
				values = append(values, float64(int64(x)))
				ints = append(ints, int64(x))
			})
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if len(values) == 0 && content != nil {
		switch {
		case dtype == dtFloat && len(content) == 4:
			values = append(values, float64(math.Float32frombits(binary.LittleEndian.Uint32(content))))
			is32 = true
		case dtype == dtDouble && len(content) == 8:
			values = append(values, math.Float64frombits(binary.LittleEndian.Uint64(content)))
		case dtype == dtInt32 && len(content) == 4:
			ints = append(ints, int64(int32(binary.LittleEndian.Uint32(content))))
			isInt = true
		case dtype == dtInt64 && len(content) == 8:
			ints = append(ints, int64(binary.LittleEndian.Uint64(content)))
			isInt = true
		case dtype == dtBool && len(content) == 1:
			ints = append(ints, int64(content[0]))
			isInt = true
		}
		for _, x := range ints {
			values = append(values, float64(x))
		}
	}

	if len(values) != 1 {
		return false, nil
	}
	s.Value = values[0]
	s.IsInt = isInt && len(ints) == 1
	if s.IsInt {
		s.Int = ints[0]
	}
	s.Float32 = is32
	return true, nil
}

// eachPacked calls fn for every element of a repeated numeric field, in
// either packed or unpacked encoding.
func eachPacked(typ protowire.Type, v []byte, scalar uint64, elem protowire.Type, fn func(uint64)) error {
	if typ == elem {
		fn(scalar)
		return nil
	}
	if typ != protowire.BytesType {
		return nil
	}
	for len(v) > 0 {
		var (
			x uint64
			n int
		)
		switch elem {
		case protowire.Fixed32Type:
			var x32 uint32
			x32, n = protowire.ConsumeFixed32(v)
			x = uint64(x32)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(v)
		default:
			x, n = protowire.ConsumeVarint(v)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		fn(x)
		v = v[n:]
	}
	return nil
}

// walkFields iterates the top-level fields of a message. Bytes fields are
// passed in v; scalar fields in scalar.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var (
			v      []byte
			scalar uint64
		)
		switch typ {
		case protowire.VarintType:
			scalar, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(b)
			scalar = uint64(x)
		case protowire.Fixed64Type:
			scalar, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, typ, v, scalar); err != nil {
			return err
		}
	}
	return nil
}

// EncodeEvent encodes an event with simple scalar values.
func EncodeEvent(ev *Event) []byte {
	var b []byte
	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ev.WallTime))
	b = protowire.AppendTag(b, eventStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.Step))

	if len(ev.Scalars) > 0 {
		var summary []byte
		for _, s := range ev.Scalars {
			var value []byte
			value = protowire.AppendTag(value, valueTag, protowire.BytesType)
			value = protowire.AppendString(value, s.Tag)
			value = protowire.AppendTag(value, valueSimpleValue, protowire.Fixed32Type)
			value = protowire.AppendFixed32(value, math.Float32bits(float32(s.Value)))

			summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
			summary = protowire.AppendBytes(summary, value)
		}
		b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
		b = protowire.AppendBytes(b, summary)
	}
	return b
}
