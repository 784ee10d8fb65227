// Package matfile reads and writes MATLAB Level 5 MAT-files holding real,
// two dimensional double matrices.
//
// A file is a 128 byte header followed by data elements. Every element starts
// with an 8 byte tag (data type, byte count) and is padded to 8 bytes. A matrix
// is an miMATRIX element made of four sub-elements: array flags, dimensions, name
// and real part. MATLAB v7 files wrap each matrix in an miCOMPRESSED element
// holding the zlib compressed miMATRIX element.
//
// Reference: MATLAB "MAT-File Format" (matfile_format.pdf), section 1.
package matfile

import (
	"errors"
	"fmt"
)

const (
	headerSize      = 128
	headerTextSize  = 116
	headerVersion   = 0x0100
	tagSize         = 8
	maxNameLen      = 63
	defaultPlatform = "MATLAB 5.0 MAT-file"
)

// data types
const (
	miINT8       uint32 = 1
	miUINT8      uint32 = 2
	miINT16      uint32 = 3
	miUINT16     uint32 = 4
	miINT32      uint32 = 5
	miUINT32     uint32 = 6
	miSINGLE     uint32 = 7
	miDOUBLE     uint32 = 9
	miINT64      uint32 = 12
	miUINT64     uint32 = 13
	miMATRIX     uint32 = 14
	miCOMPRESSED uint32 = 15
)

// array classes
const (
	mxDOUBLE_CLASS uint32 = 6
	mxUINT64_CLASS uint32 = 15

	flagComplex uint32 = 0x0800
)

var (
	ErrInvalidName     = errors.New("invalid variable name")
	ErrInvalidShape    = errors.New("matrix data doesn't match its dimensions")
	errInvalidHeader   = errors.New("not a Level 5 MAT-file")
	errInvalidElement  = errors.New("invalid data element")
	errUnsupportedType = errors.New("unsupported array type")
)

// Matrix is a named rows x cols matrix. Data is stored column-major: the
// element at (r, c) is Data[r+c*Rows].
type Matrix struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(name string, rows, cols int) (*Matrix, error) {
	if err := checkDims(rows, cols); err != nil {
		return nil, err
	}

	return &Matrix{
		Name: name,
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
	}, nil
}

func checkDims(rows, cols int) error {
	// the real part is a single element, its byte count must fit in a uint32
	const maxElements = (1<<32 - 1) / 8
	if rows < 0 || cols < 0 || rows > maxElements || cols > maxElements {
		return fmt.Errorf("%w: %dx%d", ErrInvalidShape, rows, cols)
	}
	if cols > 0 && rows > maxElements/cols {
		return fmt.Errorf("%w: %dx%d is too large", ErrInvalidShape, rows, cols)
	}
	return nil
}

func (m *Matrix) At(r, c int) float64 {
	return m.Data[r+c*m.Rows]
}

func (m *Matrix) Set(r, c int, v float64) {
	m.Data[r+c*m.Rows] = v
}

// Row copies row r out of the matrix.
func (m *Matrix) Row(r int) []float64 {
	row := make([]float64, m.Cols)
	for c := range row {
		row[c] = m.At(r, c)
	}
	return row
}

func (m *Matrix) validate() error {
	if err := checkName(m.Name); err != nil {
		return err
	}
	if err := checkDims(m.Rows, m.Cols); err != nil {
		return err
	}
	if len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("%w: %s is %dx%d with %d elements", ErrInvalidShape, m.Name, m.Rows, m.Cols, len(m.Data))
	}
	return nil
}

// checkName accepts MATLAB identifiers: a letter followed by letters, digits or
// underscores, at most 63 characters.
func checkName(name string) error {
	if len(name) == 0 || len(name) > maxNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for i, c := range name {
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if i == 0 && !isLetter {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		if !isLetter && !isDigit && c != '_' {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

func padding(n int) int {
	return (tagSize - n%tagSize) % tagSize
}
