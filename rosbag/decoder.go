package rosbag

import (
	"bufio"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pierrec/lz4/v4"
)

const (
	lenInBytes           = 4
	headerFieldDelimiter = '='
)

var (
	errUnsupportedCompression = errors.New("unsupported compression algorithm. Available algorithms: [none, bz2, lz4]")
)

type Decoder struct {
	reader         *bufio.Reader
	chunkReader    io.Reader
	chunkSource    io.Reader
	checkedVersion bool
	version        Version
	conns          map[uint32]*ConnectionHeader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		reader: bufio.NewReader(r),
		conns:  make(map[uint32]*ConnectionHeader),
	}
}

// Version returns the bag format version. It is only known after the first Read.
func (decoder *Decoder) Version() Version {
	return decoder.version
}

// Read returns the next record in the rosbag. Records stored in a chunk are returned
// right after the chunk record itself. When it reaches EOF, Read returns io.EOF.
func (decoder *Decoder) Read() (Record, error) {
	if !decoder.checkedVersion {
		if err := decoder.checkVersion(); err != nil {
			return nil, err
		}

		decoder.checkedVersion = true
	}

	if decoder.chunkReader != nil {
		record, err := decoder.decodeRecord(decoder.chunkReader, true)
		switch err {
		case nil:
			return record, nil
		case io.EOF:
			/* explicit ignore */
		default:
			return nil, err
		}

		// at this point, the chunk is exhausted. Skip whatever the decompressor left
		// unread and go back to the source
		if _, err := io.Copy(io.Discard, decoder.chunkSource); err != nil {
			return nil, err
		}
		decoder.chunkReader = nil
		decoder.chunkSource = nil
	}

	return decoder.decodeRecord(decoder.reader, false)
}

func (decoder *Decoder) handleChunk(record *RecordBase, dataLen uint32) (Record, error) {
	chunkRecord := RecordChunk{
		RecordBase: record,
	}

	if err := chunkRecord.unmarshall(); err != nil {
		return nil, err
	}

	chunkSource := io.LimitReader(decoder.reader, int64(dataLen))
	switch chunkRecord.Compression {
	case CompressionNone:
		decoder.chunkReader = chunkSource
	case CompressionBZ2:
		decoder.chunkReader = bzip2.NewReader(chunkSource)
	case CompressionLZ4:
		decoder.chunkReader = lz4.NewReader(chunkSource)
	default:
		return nil, errUnsupportedCompression
	}
	decoder.chunkSource = chunkSource

	return &chunkRecord, nil
}

func (decoder *Decoder) handleConnection(record *RecordBase) (Record, error) {
	connRecord := RecordConnection{
		RecordBase: record,
	}

	if err := connRecord.unmarshall(); err != nil {
		return nil, err
	}

	decoder.conns[connRecord.Conn] = connRecord.ConnectionHeader
	return &connRecord, nil
}

func (decoder *Decoder) handleMessageData(record *RecordBase) (Record, error) {
	msgRecord := RecordMessageData{
		RecordBase: record,
	}

	if err := msgRecord.unmarshall(); err != nil {
		return nil, err
	}

	connHdr, ok := decoder.conns[msgRecord.Conn]
	if !ok {
		return nil, errNotFoundConnectionHeader
	}

	msgRecord.connHdr = connHdr
	return &msgRecord, nil
}

func (decoder *Decoder) checkVersion() error {
	var version Version

	line, err := decoder.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	_, err = fmt.Sscanf(line, versionFormat, &version.Major, &version.Minor)
	if err != nil {
		return err
	}

	if version.Major != supportedVersion.Major || version.Minor != supportedVersion.Minor {
		return fmt.Errorf("%s is not supported. %s is the current supported version", &version, &supportedVersion)
	}

	decoder.version = version
	return nil
}

func (decoder *Decoder) decodeRecord(r io.Reader, inChunk bool) (Record, error) {
	var lenBuf [lenInBytes]byte

	// a clean EOF is only possible between records
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	headerLen := endian.Uint32(lenBuf[:])

	header, err := readBlock(r, headerLen)
	if err != nil {
		return nil, err
	}

	op, err := headerOp(header)
	if err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, noEOF(err)
	}
	dataLen := endian.Uint32(lenBuf[:])

	record := &RecordBase{
		op:     op,
		header: header,
	}

	// Since RecordChunk contains a lot of messages and connections, we don't parse
	// the data part. We'll let the next iterations to parse this.
	if op == OpChunk {
		if inChunk {
			return nil, errNestedChunk
		}
		return decoder.handleChunk(record, dataLen)
	}

	record.data, err = readBlock(r, dataLen)
	if err != nil {
		return nil, err
	}

	var specializedRecord Record
	switch op {
	case OpBagHeader:
		specializedRecord = &RecordBagHeader{RecordBase: record}
	case OpConnection:
		return decoder.handleConnection(record)
	case OpMessageData:
		return decoder.handleMessageData(record)
	case OpIndexData:
		specializedRecord = &RecordIndexData{RecordBase: record}
	case OpChunkInfo:
		specializedRecord = &RecordChunkInfo{RecordBase: record}
	default:
		return nil, errInvalidOp
	}

	if err := specializedRecord.unmarshall(); err != nil {
		return nil, err
	}
	return specializedRecord, nil
}

// readBlock reads exactly n bytes. The buffer grows with what is actually read,
// so a corrupted length can't trigger a huge allocation.
func readBlock(r io.Reader, n uint32) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, noEOF(err)
	}
	if uint64(len(b)) != uint64(n) {
		return nil, io.ErrUnexpectedEOF
	}
	return b, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Bag is a fully decoded bag.
type Bag struct {
	Version     Version
	Header      *RecordBagHeader
	Connections map[uint32]*ConnectionHeader
	// Messages are ordered by their record time. Messages with the same time keep
	// the order they have in the file.
	Messages []*RecordMessageData
}

// ReadBag decodes every record from r and keeps the messages in memory.
func ReadBag(r io.Reader) (*Bag, error) {
	decoder := NewDecoder(r)
	bag := Bag{}

	for {
		record, err := decoder.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch record := record.(type) {
		case *RecordBagHeader:
			bag.Header = record
		case *RecordMessageData:
			bag.Messages = append(bag.Messages, record)
		}
	}

	sort.SliceStable(bag.Messages, func(i, j int) bool {
		return bag.Messages[i].Time.Before(bag.Messages[j].Time)
	})

	bag.Version = decoder.Version()
	bag.Connections = decoder.conns
	return &bag, nil
}

// OpenBag reads the bag stored at path.
func OpenBag(path string) (*Bag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadBag(f)
}
