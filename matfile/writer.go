package matfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/klauspost/compress/zlib"
)

var endian = binary.LittleEndian

type Option func(*Writer)

// WithCompression selects whether matrices are stored in zlib compressed
// elements. It is on by default.
func WithCompression(compress bool) Option {
	return func(w *Writer) {
		w.compress = compress
	}
}

// WithDescription replaces the descriptive text of the file header.
func WithDescription(text string) Option {
	return func(w *Writer) {
		w.description = text
	}
}

type Writer struct {
	w           *bufio.Writer
	closer      io.Closer
	compress    bool
	description string
	closed      bool
}

// Create creates the file at path and writes the MAT-file header.
func Create(path string, opts ...Option) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w, err := NewWriter(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes the MAT-file header to w. Close flushes the writer but
// doesn't close w.
func NewWriter(w io.Writer, opts ...Option) (*Writer, error) {
	writer := &Writer{
		w:        bufio.NewWriter(w),
		compress: true,
		description: fmt.Sprintf("%s, Platform: %s, Created on: %s",
			defaultPlatform, runtime.GOOS, time.Now().Format("Mon Jan _2 15:04:05 2006")),
	}
	for _, opt := range opts {
		opt(writer)
	}

	if err := writer.writeHeader(); err != nil {
		return nil, err
	}
	return writer, nil
}

func (writer *Writer) writeHeader() error {
	header := make([]byte, headerSize)
	text := header[:headerTextSize]
	for i := range text {
		text[i] = ' '
	}
	copy(text, writer.description)
	// bytes 116-123 are the subsystem data offset, left zeroed
	endian.PutUint16(header[124:], headerVersion)
	// the endian indicator is "MI" written as a 16 bit value
	endian.PutUint16(header[126:], uint16('M')<<8|uint16('I'))

	_, err := writer.w.Write(header)
	return err
}

// PutVariable appends m to the file.
func (writer *Writer) PutVariable(m *Matrix) error {
	if writer.closed {
		return os.ErrClosed
	}
	if err := m.validate(); err != nil {
		return err
	}

	element := appendMatrix(nil, m)
	if writer.compress {
		var err error
		element, err = compressElement(element)
		if err != nil {
			return fmt.Errorf("compress %s: %w", m.Name, err)
		}
	}

	_, err := writer.w.Write(element)
	return err
}

// Close flushes buffered elements and closes the file opened by Create.
func (writer *Writer) Close() error {
	if writer.closed {
		return os.ErrClosed
	}
	writer.closed = true

	err := writer.w.Flush()
	if writer.closer != nil {
		if cerr := writer.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func appendTag(b []byte, dataType uint32, n int) []byte {
	b = endian.AppendUint32(b, dataType)
	return endian.AppendUint32(b, uint32(n))
}

func appendElement(b []byte, dataType uint32, data []byte) []byte {
	b = appendTag(b, dataType, len(data))
	b = append(b, data...)
	return append(b, make([]byte, padding(len(data)))...)
}

func appendMatrix(b []byte, m *Matrix) []byte {
	var body []byte

	flags := make([]byte, 0, 8)
	flags = endian.AppendUint32(flags, mxDOUBLE_CLASS)
	flags = endian.AppendUint32(flags, 0)
	body = appendElement(body, miUINT32, flags)

	dims := make([]byte, 0, 8)
	dims = endian.AppendUint32(dims, uint32(m.Rows))
	dims = endian.AppendUint32(dims, uint32(m.Cols))
	body = appendElement(body, miINT32, dims)

	body = appendElement(body, miINT8, []byte(m.Name))

	pr := make([]byte, 0, 8*len(m.Data))
	for _, v := range m.Data {
		pr = endian.AppendUint64(pr, math.Float64bits(v))
	}
	body = appendElement(body, miDOUBLE, pr)

	b = appendTag(b, miMATRIX, len(body))
	return append(b, body...)
}

// compressElement wraps element in an miCOMPRESSED element. Compressed elements
// are not padded.
func compressElement(element []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(element); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	b := appendTag(make([]byte, 0, tagSize+buf.Len()), miCOMPRESSED, buf.Len())
	return append(b, buf.Bytes()...), nil
}
