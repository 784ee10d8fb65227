package rosbag

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"
)

const (
	versionFormat = "#ROSBAG V%d.%d"
)

var (
	supportedVersion = Version{
		Major: 2,
		Minor: 0,
	}
	endian = binary.LittleEndian
)

var (
	errInvalidOp                = errors.New("invalid op")
	errInvalidHeader            = errors.New("invalid record header")
	errInvalidFieldLen          = errors.New("invalid record header field length")
	errNotFoundConnectionHeader = errors.New("message data refers to an unknown connection")
	errNestedChunk              = errors.New("chunk record found inside a chunk")
)

type Op uint8

const (
	// OpInvalid is an extension from the standard. This Op marks an invalid Op.
	OpInvalid     Op = 0x00
	OpBagHeader   Op = 0x03
	OpChunk       Op = 0x05
	OpConnection  Op = 0x07
	OpMessageData Op = 0x02
	OpIndexData   Op = 0x04
	OpChunkInfo   Op = 0x06
)

func (op Op) String() string {
	switch op {
	case OpBagHeader:
		return "bag header"
	case OpChunk:
		return "chunk"
	case OpConnection:
		return "connection"
	case OpMessageData:
		return "message data"
	case OpIndexData:
		return "index data"
	case OpChunkInfo:
		return "chunk info"
	default:
		return fmt.Sprintf("op(0x%02x)", uint8(op))
	}
}

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionBZ2  Compression = "bz2"
	CompressionLZ4  Compression = "lz4"
)

type Version struct {
	Major uint
	Minor uint
}

func (version *Version) String() string {
	return fmt.Sprintf("%d.%d", version.Major, version.Minor)
}

// Record is a single record of a bag. Records returned by a Decoder own their
// header and data bytes.
type Record interface {
	Op() Op
	Header() []byte
	Data() []byte
	String() string
	unmarshall() error
}

type RecordBase struct {
	op     Op
	header []byte
	data   []byte
}

func (record *RecordBase) Op() Op {
	return record.op
}

func (record *RecordBase) Header() []byte {
	return record.header
}

func (record *RecordBase) Data() []byte {
	return record.data
}

func (record *RecordBase) String() string {
	return fmt.Sprintf(`
op         : %s
header_len : %d bytes
data_len   : %d bytes
`, record.op, len(record.header), len(record.data))
}

func (record *RecordBase) unmarshall() error {
	return nil
}

type RecordBagHeader struct {
	*RecordBase
	IndexPos   uint64
	ConnCount  uint32
	ChunkCount uint32
}

func (record *RecordBagHeader) String() string {
	return fmt.Sprintf(`
index_pos   : %d
conn_count  : %d
chunk_count : %d
`, record.IndexPos, record.ConnCount, record.ChunkCount)
}

func (record *RecordBagHeader) unmarshall() error {
	return iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "index_pos":
			record.IndexPos, err = fieldUint64(value)
		case "conn_count":
			record.ConnCount, err = fieldUint32(value)
		case "chunk_count":
			record.ChunkCount, err = fieldUint32(value)
		case "op":
			// explicit ignore
		default:
			log.Printf("unknown %s. Ignoring...", string(key))
		}
		return err
	})
}

// RecordChunk marks the beginning of a chunk. Its data is not kept; the records
// stored in the chunk are returned by the following Decoder.Read calls.
type RecordChunk struct {
	*RecordBase
	Compression Compression
	Size        uint32
}

func (record *RecordChunk) String() string {
	return fmt.Sprintf(`
compression : %s
size        : %d bytes
`, record.Compression, record.Size)
}

func (record *RecordChunk) unmarshall() error {
	return iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "compression":
			record.Compression = Compression(value)
		case "size":
			record.Size, err = fieldUint32(value)
		case "op":
			// explicit ignore
		default:
			log.Printf("unknown %s. Ignoring...", string(key))
		}
		return err
	})
}

type RecordConnection struct {
	*RecordBase
	Conn  uint32
	Topic string
	// ConnectionHeader is decoded from the record data.
	ConnectionHeader *ConnectionHeader
}

func (record *RecordConnection) String() string {
	return fmt.Sprintf(`
conn  : %d
topic : %s
type  : %s
`, record.Conn, record.Topic, record.ConnectionHeader.Type)
}

func (record *RecordConnection) unmarshall() error {
	err := iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "conn":
			record.Conn, err = fieldUint32(value)
		case "topic":
			record.Topic = string(value)
		case "op":
			// explicit ignore
		default:
			log.Printf("unknown %s. Ignoring...", string(key))
		}
		return err
	})
	if err != nil {
		return err
	}

	var hdr ConnectionHeader
	if err := hdr.unmarshall(record.data); err != nil {
		return err
	}
	// The record header topic wins over the one stored in the connection header.
	if record.Topic != "" {
		hdr.Topic = record.Topic
	}
	record.ConnectionHeader = &hdr
	return nil
}

type RecordMessageData struct {
	*RecordBase
	Conn    uint32
	Time    time.Time
	connHdr *ConnectionHeader
}

func (record *RecordMessageData) String() string {
	return fmt.Sprintf(`
conn  : %d
time  : %s
topic : %s
`, record.Conn, record.Time, record.Topic())
}

func (record *RecordMessageData) unmarshall() error {
	return iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "conn":
			record.Conn, err = fieldUint32(value)
		case "time":
			record.Time, err = fieldTime(value)
		case "op":
			// explicit ignore
		default:
			log.Printf("unknown %s. Ignoring...", string(key))
		}
		return err
	})
}

// ConnectionHeader returns the header of the connection this message was
// published on.
func (record *RecordMessageData) ConnectionHeader() *ConnectionHeader {
	return record.connHdr
}

func (record *RecordMessageData) Topic() string {
	if record.connHdr == nil {
		return ""
	}
	return record.connHdr.Topic
}

func (record *RecordMessageData) Type() string {
	if record.connHdr == nil {
		return ""
	}
	return record.connHdr.Type
}

// UnmarshallTo decodes the serialized message into data. data must be a
// map[string]interface{} or a pointer to a struct. Struct fields are matched
// by their rosbag tag, or by name when the tag is missing. Every exported
// struct field must be described by the connection's message definition;
// fields tagged "-" are skipped.
func (record *RecordMessageData) UnmarshallTo(data interface{}) error {
	if record.connHdr == nil {
		return errNotFoundConnectionHeader
	}
	if err := record.connHdr.definitionErr; err != nil {
		return err
	}

	target, err := newMessageTarget(data)
	if err != nil {
		return err
	}

	_, err = decodeMessageData(&record.connHdr.MessageDefinition, record.data, target)
	return err
}

type RecordIndexData struct {
	*RecordBase
	Ver   uint32
	Conn  uint32
	Count uint32
}

func (record *RecordIndexData) String() string {
	return fmt.Sprintf(`
ver   : %d
conn  : %d
count : %d
`, record.Ver, record.Conn, record.Count)
}

func (record *RecordIndexData) unmarshall() error {
	return iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "ver":
			record.Ver, err = fieldUint32(value)
		case "conn":
			record.Conn, err = fieldUint32(value)
		case "count":
			record.Count, err = fieldUint32(value)
		case "op":
			// explicit ignore
		default:
			log.Printf("unknown %s. Ignoring...", string(key))
		}
		return err
	})
}

type RecordChunkInfo struct {
	*RecordBase
	Ver       uint32
	ChunkPos  uint64
	StartTime time.Time
	EndTime   time.Time
	Count     uint32
}

func (record *RecordChunkInfo) String() string {
	return fmt.Sprintf(`
ver        : %d
chunk_pos  : %d
start_time : %s
end_time   : %s
count      : %d
`, record.Ver, record.ChunkPos, record.StartTime, record.EndTime, record.Count)
}

func (record *RecordChunkInfo) unmarshall() error {
	return iterateHeaderFields(record.header, func(key, value []byte) error {
		var err error
		switch string(key) {
		case "ver":
			record.Ver, err = fieldUint32(value)
		case "chunk_pos":
			record.ChunkPos, err = fieldUint64(value)
		case "start_time":
			record.StartTime, err = fieldTime(value)
		case "end_time":
			record.EndTime, err = fieldTime(value)
		case "count":
			record.Count, err = fieldUint32(value)
		case "op":
			// explicit ignore
		default:
			log.Printf("unknown %s. Ignoring...", string(key))
		}
		return err
	})
}

// iterateHeaderFields walks the "name=value" fields of a record header, each
// prefixed by its little endian length. Iteration stops at the first error fn
// returns.
func iterateHeaderFields(header []byte, fn func(key, value []byte) error) error {
	for len(header) > 0 {
		if len(header) < lenInBytes {
			return errInvalidHeader
		}

		fieldLen := endian.Uint32(header)
		header = header[lenInBytes:]
		if uint64(len(header)) < uint64(fieldLen) {
			return errInvalidHeader
		}

		field := header[:fieldLen]
		header = header[fieldLen:]

		idx := bytes.IndexByte(field, headerFieldDelimiter)
		if idx == -1 {
			return errInvalidHeader
		}

		if err := fn(field[:idx], field[idx+1:]); err != nil {
			return err
		}
	}

	return nil
}

func headerOp(header []byte) (Op, error) {
	op := OpInvalid
	err := iterateHeaderFields(header, func(key, value []byte) error {
		if string(key) != "op" {
			return nil
		}
		if len(value) != 1 {
			return errInvalidFieldLen
		}
		op = Op(value[0])
		return nil
	})
	if err != nil {
		return OpInvalid, err
	}
	if op == OpInvalid {
		return OpInvalid, errInvalidOp
	}
	return op, nil
}

func fieldUint32(value []byte) (uint32, error) {
	if len(value) != 4 {
		return 0, errInvalidFieldLen
	}
	return endian.Uint32(value), nil
}

func fieldUint64(value []byte) (uint64, error) {
	if len(value) != 8 {
		return 0, errInvalidFieldLen
	}
	return endian.Uint64(value), nil
}

func fieldTime(value []byte) (time.Time, error) {
	if len(value) != 8 {
		return time.Time{}, errInvalidFieldLen
	}
	return extractTime(value), nil
}
