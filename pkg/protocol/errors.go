package protocol

import (
	"encoding/binary"
	"errors"

	"polyfit/pkg/common"
	"polyfit/pkg/model"
)

// Error codes carried in the key of a RespErr packet: [Code 1B][Arg 4B].
const (
	CodeUnknown      = 0x00
	CodeInsufficient = 0x01 // Arg = points supplied
	CodeDegenerate   = 0x02 // Arg = offending index
	CodeTooMany      = 0x03
	CodeMalformed    = 0x04
	CodeBadOp        = 0x05
)

var (
	ErrTooManyPoints = common.ErrTooManyPoints
	ErrUnknownOp     = errors.New("unknown op")
	ErrRemote        = errors.New("remote error")
)

// ErrorKey builds the RespErr key for err.
func ErrorKey(code byte, arg int) []byte {
	key := make([]byte, 5)
	key[0] = code
	binary.BigEndian.PutUint32(key[1:], uint32(int32(arg)))
	return key
}

// DecodeError turns a RespErr packet back into a typed error.
func DecodeError(p *Packet) error {
	code, arg := byte(CodeUnknown), 0
	if len(p.Key) == 5 {
		code = p.Key[0]
		arg = int(int32(binary.BigEndian.Uint32(p.Key[1:])))
	}
	msg := string(p.Value)

	switch code {
	case CodeInsufficient:
		return &model.InsufficientPointsError{Have: arg, Need: common.MinPoints}
	case CodeDegenerate:
		return &model.DegenerateInputError{Index: arg}
	case CodeTooMany:
		return &remoteError{kind: ErrTooManyPoints, msg: msg}
	case CodeMalformed:
		return &remoteError{kind: ErrMalformed, msg: msg}
	case CodeBadOp:
		return &remoteError{kind: ErrUnknownOp, msg: msg}
	default:
		return &remoteError{kind: ErrRemote, msg: msg}
	}
}

type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string {
	if e.msg == "" {
		return e.kind.Error()
	}
	return e.msg
}

func (e *remoteError) Unwrap() error { return e.kind }
