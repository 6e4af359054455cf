package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"polyfit/pkg/core"
	"polyfit/pkg/logger"
	"polyfit/pkg/model"
	"polyfit/pkg/protocol"
)

type TCPServer struct {
	ws  *core.Workspace
	log *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func NewTCPServer(ws *core.Workspace, log *logger.Logger) *TCPServer {
	if log == nil {
		log = logger.NoopLogger()
	}
	return &TCPServer{ws: ws, log: log.WithComponent("tcp")}
}

func (s *TCPServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on l until Close is called.
func (s *TCPServer) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return nil
	}
	s.listener = l
	s.mu.Unlock()
	s.log.Info("listening", "addr", l.Addr().String(), "protocol", "binary")

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *TCPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *TCPServer) handleConn(conn net.Conn) {
	defer conn.Close()
	ctx := context.Background()

	for {
		req, err := protocol.Decode(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("decode error", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		if err := s.dispatch(ctx, conn, req); err != nil {
			s.log.Debug("write error", "remote", conn.RemoteAddr().String(), "error", err)
			return
		}
	}
}

func (s *TCPServer) dispatch(ctx context.Context, w io.Writer, req *protocol.Packet) error {
	switch req.Op {
	case protocol.OpInterpolate:
		points, err := protocol.DecodePoints(req.Value)
		if err != nil {
			return writeError(w, err)
		}
		sol, err := s.ws.Interpolate(ctx, points)
		if err != nil {
			return writeError(w, err)
		}
		return protocol.Encode(w, protocol.RespVal, nil, protocol.EncodeFloats(sol.Coefficients))

	case protocol.OpEvaluate:
		x, err := protocol.DecodeFloat(req.Key)
		if err != nil {
			return writeError(w, err)
		}
		coeffs, err := protocol.DecodeFloats(req.Value)
		if err != nil {
			return writeError(w, err)
		}
		s.ws.Stats().RecordEvaluation()
		y := model.Coefficients(coeffs).Evaluate(x)
		return protocol.Encode(w, protocol.RespVal, nil, protocol.EncodeFloat(y))

	case protocol.OpFormat:
		coeffs, err := protocol.DecodeFloats(req.Value)
		if err != nil {
			return writeError(w, err)
		}
		return protocol.Encode(w, protocol.RespVal, nil, []byte(model.Format(coeffs)))

	default:
		return protocol.Encode(w, protocol.RespErr, protocol.ErrorKey(protocol.CodeBadOp, int(req.Op)), []byte("unknown op"))
	}
}

func writeError(w io.Writer, err error) error {
	code, arg := byte(protocol.CodeUnknown), 0

	var ipe *model.InsufficientPointsError
	var de *model.DegenerateInputError
	switch {
	case errors.As(err, &ipe):
		code, arg = protocol.CodeInsufficient, ipe.Have
	case errors.As(err, &de):
		code, arg = protocol.CodeDegenerate, de.Index
	case errors.Is(err, core.ErrTooManyPoints):
		code = protocol.CodeTooMany
	case errors.Is(err, protocol.ErrMalformed):
		code = protocol.CodeMalformed
	}
	return protocol.Encode(w, protocol.RespErr, protocol.ErrorKey(code, arg), []byte(err.Error()))
}
