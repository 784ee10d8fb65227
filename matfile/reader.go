package matfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Header is the 128 byte header of a MAT-file.
type Header struct {
	Text    string
	Version uint16
	Order   binary.ByteOrder
}

type Reader struct {
	r      *bufio.Reader
	Header Header
}

// NewReader reads the MAT-file header from r.
func NewReader(r io.Reader) (*Reader, error) {
	reader := &Reader{
		r: bufio.NewReader(r),
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(reader.r, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidHeader, err)
	}

	var order binary.ByteOrder
	switch string(raw[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, errInvalidHeader
	}

	reader.Header = Header{
		Text:    strings.TrimRight(string(raw[:headerTextSize]), " \x00"),
		Version: order.Uint16(raw[124:]),
		Order:   order,
	}
	if reader.Header.Version != headerVersion {
		return nil, fmt.Errorf("%w: version 0x%04x", errInvalidHeader, reader.Header.Version)
	}
	return reader, nil
}

// Next returns the next matrix of the file. Elements that are not matrices are
// skipped. At the end of the file, Next returns io.EOF.
func (reader *Reader) Next() (*Matrix, error) {
	order := reader.Header.Order

	for {
		var tag [tagSize]byte
		if _, err := io.ReadFull(reader.r, tag[:]); err != nil {
			return nil, err
		}
		dataType := order.Uint32(tag[:])
		n := order.Uint32(tag[4:])

		data, err := io.ReadAll(io.LimitReader(reader.r, int64(n)))
		if err != nil {
			return nil, err
		}
		if uint64(len(data)) != uint64(n) {
			return nil, io.ErrUnexpectedEOF
		}

		switch dataType {
		case miCOMPRESSED:
			return reader.decompress(data)
		case miMATRIX:
			if err := reader.skipPadding(int(n)); err != nil {
				return nil, err
			}
			return parseMatrix(order, data)
		default:
			if err := reader.skipPadding(int(n)); err != nil {
				return nil, err
			}
		}
	}
}

// skipPadding consumes the padding of an element. A file may end right after
// its last element without padding.
func (reader *Reader) skipPadding(n int) error {
	_, err := reader.r.Discard(padding(n))
	if err == io.EOF {
		return nil
	}
	return err
}

func (reader *Reader) decompress(data []byte) (*Matrix, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	dataType, element, _, err := parseElement(reader.Header.Order, raw)
	if err != nil {
		return nil, err
	}
	if dataType != miMATRIX {
		return nil, fmt.Errorf("%w: compressed element of type %d", errInvalidElement, dataType)
	}
	return parseMatrix(reader.Header.Order, element)
}

// ReadAll returns every matrix left in the file.
func (reader *Reader) ReadAll() ([]*Matrix, error) {
	var matrices []*Matrix
	for {
		m, err := reader.Next()
		if err == io.EOF {
			return matrices, nil
		}
		if err != nil {
			return nil, err
		}
		matrices = append(matrices, m)
	}
}

// ReadFile returns the matrices stored at path by name.
func ReadFile(path string) (map[string]*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := NewReader(f)
	if err != nil {
		return nil, err
	}

	matrices, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Matrix, len(matrices))
	for _, m := range matrices {
		byName[m.Name] = m
	}
	return byName, nil
}

// parseElement splits the first element off b. It understands the small data
// element format, where up to 4 bytes of data share the tag.
func parseElement(order binary.ByteOrder, b []byte) (dataType uint32, data []byte, rest []byte, err error) {
	if len(b) < 4 {
		return 0, nil, nil, errInvalidElement
	}

	word := order.Uint32(b)
	if n := word >> 16; n != 0 {
		if n > 4 || len(b) < tagSize {
			return 0, nil, nil, errInvalidElement
		}
		return word & 0xffff, b[4 : 4+n], b[tagSize:], nil
	}

	if len(b) < tagSize {
		return 0, nil, nil, errInvalidElement
	}
	n := uint64(order.Uint32(b[4:]))
	if uint64(len(b)-tagSize) < n {
		return 0, nil, nil, errInvalidElement
	}

	end := tagSize + int(n)
	data = b[tagSize:end]
	end += padding(int(n))
	if end > len(b) {
		end = len(b)
	}
	return word, data, b[end:], nil
}

func parseMatrix(order binary.ByteOrder, b []byte) (*Matrix, error) {
	dataType, flags, b, err := parseElement(order, b)
	if err != nil {
		return nil, err
	}
	if dataType != miUINT32 || len(flags) < 4 {
		return nil, fmt.Errorf("%w: array flags", errInvalidElement)
	}
	flagsWord := order.Uint32(flags)
	class := flagsWord & 0xff
	if class < mxDOUBLE_CLASS || class > mxUINT64_CLASS || flagsWord&flagComplex != 0 {
		return nil, fmt.Errorf("%w: class %d", errUnsupportedType, class)
	}

	dataType, dimsRaw, b, err := parseElement(order, b)
	if err != nil {
		return nil, err
	}
	if dataType != miINT32 || len(dimsRaw) != 8 {
		return nil, fmt.Errorf("%w: only 2-D matrices are supported", errUnsupportedType)
	}
	rows := int(int32(order.Uint32(dimsRaw)))
	cols := int(int32(order.Uint32(dimsRaw[4:])))
	if err := checkDims(rows, cols); err != nil {
		return nil, err
	}

	dataType, name, b, err := parseElement(order, b)
	if err != nil {
		return nil, err
	}
	if dataType != miINT8 {
		return nil, fmt.Errorf("%w: array name", errInvalidElement)
	}

	dataType, pr, _, err := parseElement(order, b)
	if err != nil {
		return nil, err
	}
	values, err := decodeNumeric(order, dataType, pr)
	if err != nil {
		return nil, err
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("%w: %s is %dx%d with %d elements", ErrInvalidShape, name, rows, cols, len(values))
	}

	return &Matrix{
		Name: string(name),
		Rows: rows,
		Cols: cols,
		Data: values,
	}, nil
}

// decodeNumeric converts the real part to float64. MATLAB stores doubles in the
// smallest type that holds them exactly, so any numeric type may show up.
func decodeNumeric(order binary.ByteOrder, dataType uint32, b []byte) ([]float64, error) {
	var size int
	var conv func([]byte) float64

	switch dataType {
	case miINT8:
		size, conv = 1, func(b []byte) float64 { return float64(int8(b[0])) }
	case miUINT8:
		size, conv = 1, func(b []byte) float64 { return float64(b[0]) }
	case miINT16:
		size, conv = 2, func(b []byte) float64 { return float64(int16(order.Uint16(b))) }
	case miUINT16:
		size, conv = 2, func(b []byte) float64 { return float64(order.Uint16(b)) }
	case miINT32:
		size, conv = 4, func(b []byte) float64 { return float64(int32(order.Uint32(b))) }
	case miUINT32:
		size, conv = 4, func(b []byte) float64 { return float64(order.Uint32(b)) }
	case miSINGLE:
		size, conv = 4, func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }
	case miDOUBLE:
		size, conv = 8, func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }
	case miINT64:
		size, conv = 8, func(b []byte) float64 { return float64(int64(order.Uint64(b))) }
	case miUINT64:
		size, conv = 8, func(b []byte) float64 { return float64(order.Uint64(b)) }
	default:
		return nil, fmt.Errorf("%w: data type %d", errUnsupportedType, dataType)
	}

	if len(b)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes of data type %d", errInvalidElement, len(b), dataType)
	}

	values := make([]float64, len(b)/size)
	for i := range values {
		values[i] = conv(b[i*size:])
	}
	return values, nil
}
