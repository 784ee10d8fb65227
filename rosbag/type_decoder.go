package rosbag

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

var basicGoTypes = map[MessageFieldType]reflect.Type{
	MessageFieldTypeBool:     reflect.TypeOf(false),
	MessageFieldTypeInt8:     reflect.TypeOf(int8(0)),
	MessageFieldTypeUint8:    reflect.TypeOf(uint8(0)),
	MessageFieldTypeInt16:    reflect.TypeOf(int16(0)),
	MessageFieldTypeUint16:   reflect.TypeOf(uint16(0)),
	MessageFieldTypeInt32:    reflect.TypeOf(int32(0)),
	MessageFieldTypeUint32:   reflect.TypeOf(uint32(0)),
	MessageFieldTypeInt64:    reflect.TypeOf(int64(0)),
	MessageFieldTypeUint64:   reflect.TypeOf(uint64(0)),
	MessageFieldTypeFloat32:  reflect.TypeOf(float32(0)),
	MessageFieldTypeFloat64:  reflect.TypeOf(float64(0)),
	MessageFieldTypeString:   reflect.TypeOf(""),
	MessageFieldTypeTime:     reflect.TypeOf(time.Time{}),
	MessageFieldTypeDuration: reflect.TypeOf(time.Duration(0)),
}

// basicSizes holds the serialized size of the fixed width types. Strings are
// length prefixed and have no entry.
var basicSizes = map[MessageFieldType]int{
	MessageFieldTypeBool:     1,
	MessageFieldTypeInt8:     1,
	MessageFieldTypeUint8:    1,
	MessageFieldTypeInt16:    2,
	MessageFieldTypeUint16:   2,
	MessageFieldTypeInt32:    4,
	MessageFieldTypeUint32:   4,
	MessageFieldTypeInt64:    8,
	MessageFieldTypeUint64:   8,
	MessageFieldTypeFloat32:  4,
	MessageFieldTypeFloat64:  8,
	MessageFieldTypeTime:     8,
	MessageFieldTypeDuration: 8,
}

func fieldDecodeLength(raw []byte, fixedLength int) (length int, off int, ok bool) {
	if fixedLength >= 0 {
		ok = true
		length = fixedLength
		return
	}

	if len(raw) < lenInBytes {
		return
	}

	length = int(endian.Uint32(raw))
	if length < 0 || len(raw) < lenInBytes+length {
		return
	}

	ok = true
	off = lenInBytes
	return
}

func fieldDecodeBasic(fieldType MessageFieldType, raw []byte) (v interface{}, off int, ok bool) {
	if fieldType == MessageFieldTypeString {
		return fieldDecodeString(raw)
	}

	off, known := basicSizes[fieldType]
	if !known || len(raw) < off {
		return nil, 0, false
	}

	switch fieldType {
	case MessageFieldTypeBool:
		v = raw[0] != 0
	case MessageFieldTypeInt8:
		v = int8(raw[0])
	case MessageFieldTypeUint8:
		v = raw[0]
	case MessageFieldTypeInt16:
		v = int16(endian.Uint16(raw))
	case MessageFieldTypeUint16:
		v = endian.Uint16(raw)
	case MessageFieldTypeInt32:
		v = int32(endian.Uint32(raw))
	case MessageFieldTypeUint32:
		v = endian.Uint32(raw)
	case MessageFieldTypeInt64:
		v = int64(endian.Uint64(raw))
	case MessageFieldTypeUint64:
		v = endian.Uint64(raw)
	case MessageFieldTypeFloat32:
		v = math.Float32frombits(endian.Uint32(raw))
	case MessageFieldTypeFloat64:
		v = math.Float64frombits(endian.Uint64(raw))
	case MessageFieldTypeTime:
		v = extractTime(raw)
	case MessageFieldTypeDuration:
		v = extractDuration(raw)
	}

	ok = true
	return
}

func fieldDecodeString(raw []byte) (v interface{}, off int, ok bool) {
	length, off, ok := fieldDecodeLength(raw, -1)
	if !ok {
		return
	}

	v = string(raw[off : off+length])
	off += length
	return
}

func fieldDecodeSlice(fieldType MessageFieldType, raw []byte, fixedLength int) (v interface{}, off int, ok bool) {
	length, off, ok := fieldDecodeLength(raw, fixedLength)
	if !ok {
		return
	}

	// every element takes at least one byte, so a length larger than what's left
	// is a corrupted message
	if length > len(raw)-off {
		return nil, 0, false
	}

	if fieldType == MessageFieldTypeUint8 {
		b := make([]uint8, length)
		off += copy(b, raw[off:off+length])
		return b, off, true
	}

	goType, known := basicGoTypes[fieldType]
	if !known {
		return nil, 0, false
	}

	vs := reflect.MakeSlice(reflect.SliceOf(goType), length, length)
	for i := 0; i < length; i++ {
		elem, n, ok := fieldDecodeBasic(fieldType, raw[off:])
		if !ok {
			return nil, 0, false
		}
		vs.Index(i).Set(reflect.ValueOf(elem))
		off += n
	}

	return vs.Interface(), off, true
}

// fieldEncodeBasic appends value serialized as fieldType. An invalid value is
// written as the zero value of the type.
func fieldEncodeBasic(b []byte, fieldType MessageFieldType, value reflect.Value) ([]byte, error) {
	goType, known := basicGoTypes[fieldType]
	if !known {
		return nil, errInvalidFormat
	}
	if !value.IsValid() {
		value = reflect.Zero(goType)
	}
	if value.Type() != goType {
		return nil, fmt.Errorf("expected %s, got %s", goType, value.Type())
	}

	switch fieldType {
	case MessageFieldTypeBool:
		if value.Bool() {
			return append(b, 1), nil
		}
		return append(b, 0), nil
	case MessageFieldTypeInt8, MessageFieldTypeInt16, MessageFieldTypeInt32, MessageFieldTypeInt64:
		return appendUint(b, uint64(value.Int()), basicSizes[fieldType]), nil
	case MessageFieldTypeUint8, MessageFieldTypeUint16, MessageFieldTypeUint32, MessageFieldTypeUint64:
		return appendUint(b, value.Uint(), basicSizes[fieldType]), nil
	case MessageFieldTypeFloat32:
		return endian.AppendUint32(b, math.Float32bits(float32(value.Float()))), nil
	case MessageFieldTypeFloat64:
		return endian.AppendUint64(b, math.Float64bits(value.Float())), nil
	case MessageFieldTypeString:
		s := value.String()
		b = endian.AppendUint32(b, uint32(len(s)))
		return append(b, s...), nil
	case MessageFieldTypeTime:
		return appendTime(b, value.Interface().(time.Time)), nil
	case MessageFieldTypeDuration:
		return appendDuration(b, value.Interface().(time.Duration)), nil
	}

	return nil, errInvalidFormat
}

func appendUint(b []byte, v uint64, size int) []byte {
	switch size {
	case 1:
		return append(b, byte(v))
	case 2:
		return endian.AppendUint16(b, uint16(v))
	case 4:
		return endian.AppendUint32(b, uint32(v))
	default:
		return endian.AppendUint64(b, v)
	}
}

func fieldEncodeSlice(b []byte, fieldType MessageFieldType, value reflect.Value, fixedLength int) ([]byte, error) {
	value = nilAsMissing(value)
	length := 0
	if value.IsValid() {
		if value.Kind() != reflect.Slice && value.Kind() != reflect.Array {
			return nil, errInvalidDataType
		}
		length = value.Len()
	}

	if fixedLength >= 0 {
		if value.IsValid() && length != fixedLength {
			return nil, fmt.Errorf("expected %d elements, got %d", fixedLength, length)
		}
		length = fixedLength
	} else {
		b = endian.AppendUint32(b, uint32(length))
	}

	for i := 0; i < length; i++ {
		var elem reflect.Value
		if value.IsValid() {
			elem = value.Index(i)
		}

		var err error
		b, err = fieldEncodeBasic(b, fieldType, elem)
		if err != nil {
			return nil, err
		}
	}

	return b, nil
}

// nilAsMissing treats a nil slice like a missing field, so a fixed-size array
// left nil is written as zeros.
func nilAsMissing(value reflect.Value) reflect.Value {
	if value.IsValid() && value.Kind() == reflect.Slice && value.IsNil() {
		return reflect.Value{}
	}
	return value
}
