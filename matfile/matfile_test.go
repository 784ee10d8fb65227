package matfile

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func testMatrices() []*Matrix {
	return []*Matrix{
		{
			Name: "data_imu",
			Rows: 2,
			Cols: 3,
			// rows are [1 2 3] and [4 5 6]
			Data: []float64{1, 4, 2, 5, 3, 6},
		},
		{
			Name: "a",
			Rows: 1,
			Cols: 4,
			Data: []float64{math.Inf(1), -0.5, 1e300, math.SmallestNonzeroFloat64},
		},
		{
			Name: "data_april",
			Rows: 0,
			Cols: 10,
			Data: []float64{},
		},
	}
}

func TestWriteRead(t *testing.T) {
	testCases := []struct {
		Name     string
		Compress bool
	}{
		{Name: "Compressed", Compress: true},
		{Name: "Uncompressed", Compress: false},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, WithCompression(testCase.Compress), WithDescription("bag2mat test"))
			if err != nil {
				t.Fatal(err)
			}

			expected := testMatrices()
			for _, m := range expected {
				if err := w.PutVariable(m); err != nil {
					t.Fatal(err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			if !testCase.Compress && buf.Len()%tagSize != 0 {
				t.Fatalf("uncompressed file of %d bytes is not 8 byte aligned", buf.Len())
			}

			r, err := NewReader(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if r.Header.Text != "bag2mat test" {
				t.Fatalf("unexpected header text %q", r.Header.Text)
			}

			actual, err := r.ReadAll()
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(expected, actual, cmpopts.EquateEmpty()); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	raw := buf.Bytes()
	if len(raw) != headerSize {
		t.Fatalf("expected a %d byte file, got %d", headerSize, len(raw))
	}
	if !bytes.HasPrefix(raw, []byte(defaultPlatform)) {
		t.Fatalf("unexpected header text %q", raw[:headerTextSize])
	}
	if diff := cmp.Diff(make([]byte, 8), raw[116:124]); diff != "" {
		t.Fatalf("subsystem offset must be zero: %s", diff)
	}
	if diff := cmp.Diff([]byte{0x00, 0x01, 'I', 'M'}, raw[124:]); diff != "" {
		t.Fatal(diff)
	}

	if err := w.Close(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if err := w.PutVariable(testMatrices()[0]); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestCreateReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mat")

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range testMatrices() {
		if err := w.PutVariable(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	matrices, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	imu, ok := matrices["data_imu"]
	if !ok {
		t.Fatalf("data_imu is missing from %v", matrices)
	}
	if diff := cmp.Diff([]float64{4, 5, 6}, imu.Row(1)); diff != "" {
		t.Fatal(diff)
	}
	if imu.At(0, 2) != 3 {
		t.Fatalf("expected 3, got %v", imu.At(0, 2))
	}

	if april := matrices["data_april"]; april == nil || april.Rows != 0 || april.Cols != 10 {
		t.Fatalf("unexpected data_april %+v", april)
	}
}

func TestPutVariableInvalid(t *testing.T) {
	testCases := []struct {
		Name   string
		Matrix *Matrix
		Err    error
	}{
		{
			Name:   "Empty Name",
			Matrix: &Matrix{Rows: 1, Cols: 1, Data: []float64{1}},
			Err:    ErrInvalidName,
		},
		{
			Name:   "Leading Digit",
			Matrix: &Matrix{Name: "1data", Rows: 1, Cols: 1, Data: []float64{1}},
			Err:    ErrInvalidName,
		},
		{
			Name:   "Invalid Character",
			Matrix: &Matrix{Name: "data-imu", Rows: 1, Cols: 1, Data: []float64{1}},
			Err:    ErrInvalidName,
		},
		{
			Name:   "Too Long",
			Matrix: &Matrix{Name: strings.Repeat("a", maxNameLen+1), Rows: 1, Cols: 1, Data: []float64{1}},
			Err:    ErrInvalidName,
		},
		{
			Name:   "Data Length",
			Matrix: &Matrix{Name: "data_imu", Rows: 2, Cols: 7, Data: make([]float64, 13)},
			Err:    ErrInvalidShape,
		},
		{
			Name:   "Negative Rows",
			Matrix: &Matrix{Name: "data_imu", Rows: -1, Cols: 7},
			Err:    ErrInvalidShape,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			w, err := NewWriter(io.Discard)
			if err != nil {
				t.Fatal(err)
			}

			if err := w.PutVariable(testCase.Matrix); !errors.Is(err, testCase.Err) {
				t.Fatalf("expected %v, got %v", testCase.Err, err)
			}
		})
	}
}

func TestNewMatrix(t *testing.T) {
	m, err := NewMatrix("data_odom", 3, 14)
	if err != nil {
		t.Fatal(err)
	}
	m.Set(2, 13, 42)
	if m.Data[2+13*3] != 42 || m.At(2, 13) != 42 {
		t.Fatal("Set and At must use column-major order")
	}

	if _, err := NewMatrix("huge", 1<<30, 1<<30); !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
}

func TestParseSmallElements(t *testing.T) {
	order := endian

	var b []byte
	// array flags
	b = appendElement(b, miUINT32, endian.AppendUint32(endian.AppendUint32(nil, mxDOUBLE_CLASS), 0))
	b = appendElement(b, miINT32, endian.AppendUint32(endian.AppendUint32(nil, 1), 3))
	// small format name: 2 bytes of miINT8 packed in the tag
	b = endian.AppendUint32(b, 2<<16|miINT8)
	b = append(b, 'x', 'y', 0, 0)
	// small format real part: 3 uint8 values
	b = endian.AppendUint32(b, 3<<16|miUINT8)
	b = append(b, 7, 8, 255, 0)

	m, err := parseMatrix(order, b)
	if err != nil {
		t.Fatal(err)
	}

	expected := &Matrix{Name: "xy", Rows: 1, Cols: 3, Data: []float64{7, 8, 255}}
	if diff := cmp.Diff(expected, m); diff != "" {
		t.Fatal(diff)
	}
}

func TestDecodeNumeric(t *testing.T) {
	testCases := []struct {
		Name     string
		DataType uint32
		Raw      []byte
		Expected []float64
	}{
		{
			Name:     "int8",
			DataType: miINT8,
			Raw:      []byte{0xff, 0x02},
			Expected: []float64{-1, 2},
		},
		{
			Name:     "int16",
			DataType: miINT16,
			Raw:      endian.AppendUint16(nil, 0xfffe),
			Expected: []float64{-2},
		},
		{
			Name:     "uint16",
			DataType: miUINT16,
			Raw:      endian.AppendUint16(nil, 0xfffe),
			Expected: []float64{65534},
		},
		{
			Name:     "int32",
			DataType: miINT32,
			Raw:      endian.AppendUint32(nil, 0xfffffffd),
			Expected: []float64{-3},
		},
		{
			Name:     "single",
			DataType: miSINGLE,
			Raw:      endian.AppendUint32(nil, math.Float32bits(0.25)),
			Expected: []float64{0.25},
		},
		{
			Name:     "uint64",
			DataType: miUINT64,
			Raw:      endian.AppendUint64(nil, 1<<40),
			Expected: []float64{1 << 40},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			actual, err := decodeNumeric(endian, testCase.DataType, testCase.Raw)
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(testCase.Expected, actual); diff != "" {
				t.Fatal(diff)
			}
		})
	}

	if _, err := decodeNumeric(endian, miDOUBLE, make([]byte, 12)); !errors.Is(err, errInvalidElement) {
		t.Fatalf("expected errInvalidElement, got %v", err)
	}
	if _, err := decodeNumeric(endian, miMATRIX, nil); !errors.Is(err, errUnsupportedType) {
		t.Fatalf("expected errUnsupportedType, got %v", err)
	}
}

func TestNewReaderInvalid(t *testing.T) {
	testCases := []struct {
		Name string
		Raw  []byte
	}{
		{
			Name: "Short",
			Raw:  []byte("MATLAB 5.0 MAT-file"),
		},
		{
			Name: "Bad Endian Indicator",
			Raw:  append(make([]byte, 124), 0x00, 0x01, 'X', 'X'),
		},
		{
			Name: "Bad Version",
			Raw:  append(make([]byte, 124), 0x00, 0x02, 'I', 'M'),
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			if _, err := NewReader(bytes.NewReader(testCase.Raw)); !errors.Is(err, errInvalidHeader) {
				t.Fatalf("expected errInvalidHeader, got %v", err)
			}
		})
	}
}
