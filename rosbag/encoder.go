package rosbag

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pierrec/lz4/v4"
)

const (
	bagHeaderRecordSize = 4096
	indexVersion        = 1
)

var (
	errChunkOpen    = errors.New("a chunk is already open")
	errNoChunkOpen  = errors.New("no chunk is open")
	errUnknownConn  = errors.New("message written on an unknown connection")
	errEncoderClose = errors.New("encoder is closed")
)

type headerField struct {
	key   string
	value []byte
}

func appendHeaderFields(b []byte, fields []headerField) []byte {
	for _, field := range fields {
		b = endian.AppendUint32(b, uint32(len(field.key)+1+len(field.value)))
		b = append(b, field.key...)
		b = append(b, headerFieldDelimiter)
		b = append(b, field.value...)
	}
	return b
}

func appendRecord(b []byte, op Op, fields []headerField, data []byte) []byte {
	fields = append([]headerField{{"op", []byte{byte(op)}}}, fields...)
	header := appendHeaderFields(nil, fields)
	b = endian.AppendUint32(b, uint32(len(header)))
	b = append(b, header...)
	b = endian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}

func uint32Bytes(v uint32) []byte {
	return endian.AppendUint32(nil, v)
}

func uint64Bytes(v uint64) []byte {
	return endian.AppendUint64(nil, v)
}

func timeBytes(t time.Time) []byte {
	return appendTime(nil, t)
}

type indexEntry struct {
	time   time.Time
	offset uint32
}

type openChunk struct {
	compression Compression
	buf         []byte
	index       map[uint32][]indexEntry
	start       time.Time
	end         time.Time
}

type chunkInfo struct {
	pos    uint64
	start  time.Time
	end    time.Time
	counts map[uint32]uint32
}

// Encoder writes a version 2.0 bag. Records are written in call order; messages
// between BeginChunk and EndChunk are stored in a chunk followed by its index
// records. Close writes the connection and chunk info records that end a bag.
//
// The bag header written first carries zero counts and index position: the file
// can be read sequentially, not through its index.
type Encoder struct {
	w       io.Writer
	pos     uint64
	started bool
	closed  bool
	conns   map[uint32]*ConnectionHeader
	chunk   *openChunk
	chunks  []chunkInfo
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:     w,
		conns: make(map[uint32]*ConnectionHeader),
	}
}

func (encoder *Encoder) write(b []byte) error {
	n, err := encoder.w.Write(b)
	encoder.pos += uint64(n)
	return err
}

func (encoder *Encoder) start() error {
	if encoder.closed {
		return errEncoderClose
	}
	if encoder.started {
		return nil
	}
	encoder.started = true

	b := []byte(fmt.Sprintf(versionFormat+"\n", supportedVersion.Major, supportedVersion.Minor))
	fields := []headerField{
		{"index_pos", uint64Bytes(0)},
		{"conn_count", uint32Bytes(0)},
		{"chunk_count", uint32Bytes(0)},
	}
	header := appendRecord(nil, OpBagHeader, fields, nil)
	// pad the bag header record so it can be rewritten in place
	padding := bytes.Repeat([]byte{' '}, bagHeaderRecordSize-len(header))
	b = appendRecord(b, OpBagHeader, fields, padding)
	return encoder.write(b)
}

// WriteConnection declares conn. It must be called before any message is written on it.
func (encoder *Encoder) WriteConnection(conn uint32, hdr *ConnectionHeader) error {
	if err := encoder.start(); err != nil {
		return err
	}

	encoder.conns[conn] = hdr
	b := appendConnection(nil, conn, hdr)
	if encoder.chunk != nil {
		encoder.chunk.buf = append(encoder.chunk.buf, b...)
		return nil
	}
	return encoder.write(b)
}

func appendConnection(b []byte, conn uint32, hdr *ConnectionHeader) []byte {
	fields := []headerField{
		{"conn", uint32Bytes(conn)},
		{"topic", []byte(hdr.Topic)},
	}
	return appendRecord(b, OpConnection, fields, hdr.marshall())
}

// WriteMessage writes a serialized message received at t on conn.
func (encoder *Encoder) WriteMessage(conn uint32, t time.Time, data []byte) error {
	if err := encoder.start(); err != nil {
		return err
	}
	if _, ok := encoder.conns[conn]; !ok {
		return errUnknownConn
	}

	fields := []headerField{
		{"conn", uint32Bytes(conn)},
		{"time", timeBytes(t)},
	}

	chunk := encoder.chunk
	if chunk == nil {
		return encoder.write(appendRecord(nil, OpMessageData, fields, data))
	}

	chunk.index[conn] = append(chunk.index[conn], indexEntry{time: t, offset: uint32(len(chunk.buf))})
	if chunk.start.IsZero() || t.Before(chunk.start) {
		chunk.start = t
	}
	if t.After(chunk.end) {
		chunk.end = t
	}
	chunk.buf = appendRecord(chunk.buf, OpMessageData, fields, data)
	return nil
}

// BeginChunk starts buffering records into a chunk compressed with compression.
func (encoder *Encoder) BeginChunk(compression Compression) error {
	if err := encoder.start(); err != nil {
		return err
	}
	if encoder.chunk != nil {
		return errChunkOpen
	}

	switch compression {
	case CompressionNone, CompressionLZ4:
	default:
		return errUnsupportedCompression
	}

	encoder.chunk = &openChunk{
		compression: compression,
		index:       make(map[uint32][]indexEntry),
	}
	return nil
}

// EndChunk writes the chunk started by BeginChunk and its index data records.
func (encoder *Encoder) EndChunk() error {
	chunk := encoder.chunk
	if chunk == nil {
		return errNoChunkOpen
	}
	encoder.chunk = nil

	data := chunk.buf
	if chunk.compression == CompressionLZ4 {
		var compressed bytes.Buffer
		zw := lz4.NewWriter(&compressed)
		if _, err := zw.Write(chunk.buf); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		data = compressed.Bytes()
	}

	info := chunkInfo{
		pos:    encoder.pos,
		start:  chunk.start,
		end:    chunk.end,
		counts: make(map[uint32]uint32),
	}

	fields := []headerField{
		{"compression", []byte(chunk.compression)},
		{"size", uint32Bytes(uint32(len(chunk.buf)))},
	}
	b := appendRecord(nil, OpChunk, fields, data)

	for _, conn := range sortedConns(chunk.index) {
		entries := chunk.index[conn]
		info.counts[conn] = uint32(len(entries))

		var entriesData []byte
		for _, entry := range entries {
			entriesData = append(entriesData, timeBytes(entry.time)...)
			entriesData = endian.AppendUint32(entriesData, entry.offset)
		}
		fields := []headerField{
			{"ver", uint32Bytes(indexVersion)},
			{"conn", uint32Bytes(conn)},
			{"count", uint32Bytes(uint32(len(entries)))},
		}
		b = appendRecord(b, OpIndexData, fields, entriesData)
	}

	encoder.chunks = append(encoder.chunks, info)
	return encoder.write(b)
}

// Close ends an open chunk, then writes the connection and chunk info records.
// It doesn't close the underlying writer.
func (encoder *Encoder) Close() error {
	if encoder.closed {
		return nil
	}
	if err := encoder.start(); err != nil {
		return err
	}
	if encoder.chunk != nil {
		if err := encoder.EndChunk(); err != nil {
			return err
		}
	}
	encoder.closed = true

	var b []byte
	for _, conn := range sortedConns(encoder.conns) {
		b = appendConnection(b, conn, encoder.conns[conn])
	}

	for _, info := range encoder.chunks {
		var data []byte
		for _, conn := range sortedConns(info.counts) {
			data = endian.AppendUint32(data, conn)
			data = endian.AppendUint32(data, info.counts[conn])
		}
		fields := []headerField{
			{"ver", uint32Bytes(indexVersion)},
			{"chunk_pos", uint64Bytes(info.pos)},
			{"start_time", timeBytes(info.start)},
			{"end_time", timeBytes(info.end)},
			{"count", uint32Bytes(uint32(len(info.counts)))},
		}
		b = appendRecord(b, OpChunkInfo, fields, data)
	}

	return encoder.write(b)
}

func sortedConns[V any](m map[uint32]V) []uint32 {
	conns := make([]uint32, 0, len(m))
	for conn := range m {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i] < conns[j] })
	return conns
}
