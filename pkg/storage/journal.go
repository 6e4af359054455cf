package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"polyfit/pkg/common"
)

// [CRC32 4B] [LSN 8B] [Timestamp 8B] [Op 1B] [Index 4B] [X 8B] [Y 8B] [NameLen 2B] [Name NB]
// CRC covers everything after itself, name included.

const (
	HeaderSize = 4 + 8 + 8 + 1 + 4 + 8 + 8 + 2 // 43 Bytes

	MaxSetName = math.MaxUint16
)

// Journal operations.
const (
	OpAdd    byte = 0x01 // append Point to Set
	OpRemove byte = 0x02 // remove Index from Set
	OpReset  byte = 0x03 // clear Set
	OpDrop   byte = 0x04 // delete Set entirely
)

var (
	ErrCorrupted   = errors.New("journal: corrupted entry")
	ErrCRCMismatch = errors.New("journal: crc mismatch")
	ErrNameTooLong = errors.New("journal: set name too long")
)

// Entry is one point-set mutation. LSN increases monotonically across
// truncations; a checkpoint records the highest LSN it contains.
type Entry struct {
	LSN   uint64
	Op    byte
	Set   string
	Index int
	Point common.Point
	Time  time.Time
}

// Journal is an append-only log of point-set mutations, replayed on startup
// and truncated after each checkpoint.
type Journal struct {
	file *os.File
	mu   sync.Mutex
	buf  *bufio.Writer
}

func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &Journal{
		file: f,
		buf:  bufio.NewWriter(f),
	}, nil
}

func (j *Journal) Append(e Entry) error {
	if len(e.Set) > MaxSetName {
		return ErrNameTooLong
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	header := make([]byte, HeaderSize)
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	binary.LittleEndian.PutUint64(header[4:12], e.LSN)
	binary.LittleEndian.PutUint64(header[12:20], uint64(ts.UnixNano()))
	header[20] = e.Op
	binary.LittleEndian.PutUint32(header[21:25], uint32(int32(e.Index)))
	binary.LittleEndian.PutUint64(header[25:33], math.Float64bits(e.Point.X))
	binary.LittleEndian.PutUint64(header[33:41], math.Float64bits(e.Point.Y))
	binary.LittleEndian.PutUint16(header[41:43], uint16(len(e.Set)))

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write([]byte(e.Set))
	binary.LittleEndian.PutUint32(header[0:4], checksum.Sum32())

	if _, err := j.buf.Write(header); err != nil {
		return err
	}
	if _, err := j.buf.WriteString(e.Set); err != nil {
		return err
	}

	return j.buf.Flush()
}

func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf.Flush()
	return j.file.Close()
}

func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	path := j.file.Name()
	if err := j.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	j.file = f
	j.buf = bufio.NewWriter(f)
	return j.file.Sync()
}

func (j *Journal) Size() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return 0, err
	}
	st, err := j.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

type JournalIterator struct {
	reader *bufio.Reader
	file   *os.File
}

func (j *Journal) NewIterator() (*JournalIterator, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return nil, err
	}
	f, err := os.Open(j.file.Name())
	if err != nil {
		return nil, err
	}
	return &JournalIterator{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

// Next returns io.EOF at a clean end of log.
func (it *JournalIterator) Next() (Entry, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(it.reader, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Entry{}, ErrCorrupted
		}
		return Entry{}, err
	}

	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	nameLen := binary.LittleEndian.Uint16(header[41:43])

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(it.reader, name); err != nil {
		return Entry{}, ErrCorrupted
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(name)
	if checksum.Sum32() != storedCRC {
		return Entry{}, ErrCRCMismatch
	}

	return Entry{
		LSN:   binary.LittleEndian.Uint64(header[4:12]),
		Op:    header[20],
		Set:   string(name),
		Index: int(int32(binary.LittleEndian.Uint32(header[21:25]))),
		Point: common.Point{
			X: math.Float64frombits(binary.LittleEndian.Uint64(header[25:33])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(header[33:41])),
		},
		Time: time.Unix(0, int64(binary.LittleEndian.Uint64(header[12:20]))),
	}, nil
}

func (it *JournalIterator) Close() {
	it.file.Close()
}
