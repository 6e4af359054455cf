package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"polyfit/pkg/common"
)

const (
	MagicNumber = 0x50

	OpInterpolate = 0x01 // Value = encoded points
	OpEvaluate    = 0x02 // Key = float64 x, Value = encoded coefficients
	OpFormat      = 0x03 // Value = encoded coefficients

	RespOK  = 0x00
	RespErr = 0xFF
	RespVal = 0x01
)

var (
	ErrInvalidMagic = errors.New("invalid magic number")
	ErrMalformed    = errors.New("malformed payload")
)

type Packet struct {
	Op    byte
	Key   []byte
	Value []byte
}

func Encode(w io.Writer, op byte, key []byte, value []byte) error {
	header := make([]byte, 8)
	header[0] = MagicNumber
	header[1] = op
	binary.BigEndian.PutUint16(header[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(value)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(key) > 0 {
		if _, err := w.Write(key); err != nil {
			return err
		}
	}
	if len(value) > 0 {
		if _, err := w.Write(value); err != nil {
			return err
		}
	}
	return nil
}

func Decode(r io.Reader) (*Packet, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != MagicNumber {
		return nil, ErrInvalidMagic
	}

	op := header[1]
	kLen := binary.BigEndian.Uint16(header[2:4])
	vLen := binary.BigEndian.Uint32(header[4:8])

	key := make([]byte, kLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	val := make([]byte, vLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return nil, err
	}

	return &Packet{Op: op, Key: key, Value: val}, nil
}

// [Count 4B] + ( [X 8B] [Y 8B] ) * Count, float64 bits big-endian

func EncodePoints(points []common.Point) []byte {
	buf := make([]byte, 4+16*len(points))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(points)))
	off := 4
	for _, p := range points {
		binary.BigEndian.PutUint64(buf[off:], math.Float64bits(p.X))
		binary.BigEndian.PutUint64(buf[off+8:], math.Float64bits(p.Y))
		off += 16
	}
	return buf
}

func DecodePoints(data []byte) ([]common.Point, error) {
	if len(data) < 4 {
		return nil, ErrMalformed
	}
	count := binary.BigEndian.Uint32(data[0:4])
	if uint64(len(data)-4) != uint64(count)*16 {
		return nil, ErrMalformed
	}
	points := make([]common.Point, count)
	off := 4
	for i := range points {
		points[i].X = math.Float64frombits(binary.BigEndian.Uint64(data[off:]))
		points[i].Y = math.Float64frombits(binary.BigEndian.Uint64(data[off+8:]))
		off += 16
	}
	return points, nil
}

// [Count 4B] + [V 8B] * Count

func EncodeFloats(vs []float64) []byte {
	buf := make([]byte, 4+8*len(vs))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(vs)))
	for i, v := range vs {
		binary.BigEndian.PutUint64(buf[4+8*i:], math.Float64bits(v))
	}
	return buf
}

func DecodeFloats(data []byte) ([]float64, error) {
	if len(data) < 4 {
		return nil, ErrMalformed
	}
	count := binary.BigEndian.Uint32(data[0:4])
	if uint64(len(data)-4) != uint64(count)*8 {
		return nil, ErrMalformed
	}
	vs := make([]float64, count)
	for i := range vs {
		vs[i] = math.Float64frombits(binary.BigEndian.Uint64(data[4+8*i:]))
	}
	return vs, nil
}

func EncodeFloat(v float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func DecodeFloat(data []byte) (float64, error) {
	if len(data) != 8 {
		return 0, ErrMalformed
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
}
