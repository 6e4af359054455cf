package network

import (
	"errors"
	"math"
	"net"
	"testing"

	"polyfit/pkg/client"
	"polyfit/pkg/common"
	"polyfit/pkg/config"
	"polyfit/pkg/core"
	"polyfit/pkg/model"
	"polyfit/pkg/protocol"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Limits.MaxPoints = 4

	ws, err := core.NewWorkspace(cfg, nil)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewTCPServer(ws, nil)
	go srv.Serve(l)
	t.Cleanup(func() {
		srv.Close()
		ws.Close()
	})
	return l.Addr().String()
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	cli, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestInterpolateEvaluateFormatOverTCP(t *testing.T) {
	cli := dial(t, startTestServer(t))

	coeffs, err := cli.Interpolate([]common.Point{{X: 0, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 5}})
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if len(coeffs) != 3 || math.Abs(coeffs[0]-1) > 1e-12 || math.Abs(coeffs[1]) > 1e-12 || math.Abs(coeffs[2]-1) > 1e-12 {
		t.Fatalf("unexpected coefficients %v", coeffs)
	}

	y, err := cli.Evaluate(coeffs, 3)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(y-10) > 1e-9 {
		t.Fatalf("expected 10, got %v", y)
	}

	s, err := cli.Format(model.Coefficients{3, -2, 1})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if s != "f(x) = x^2 - 2x + 3" {
		t.Fatalf("unexpected format %q", s)
	}
}

func TestTypedErrorsOverTCP(t *testing.T) {
	cli := dial(t, startTestServer(t))

	_, err := cli.Interpolate([]common.Point{{X: 1, Y: 5}})
	var ipe *model.InsufficientPointsError
	if !errors.As(err, &ipe) || ipe.Have != 1 || ipe.Missing() != 1 {
		t.Fatalf("expected insufficient points (have 1), got %v", err)
	}

	_, err = cli.Interpolate([]common.Point{{X: 1, Y: 5}, {X: 1, Y: 7}})
	if !errors.Is(err, model.ErrDegenerateInput) {
		t.Fatalf("expected degenerate input, got %v", err)
	}

	five := make([]common.Point, 5)
	for i := range five {
		five[i] = common.Point{X: float64(i)}
	}
	_, err = cli.Interpolate(five)
	if !errors.Is(err, protocol.ErrTooManyPoints) || !errors.Is(err, core.ErrTooManyPoints) {
		t.Fatalf("expected too many points on both sides of the wire, got %v", err)
	}

	// the connection stays usable after errors
	if _, err := cli.Format(model.Coefficients{0, 1}); err != nil {
		t.Fatalf("format after errors: %v", err)
	}
}

func TestUnknownOpAndMalformedPayload(t *testing.T) {
	addr := startTestServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := protocol.Encode(conn, 0x7F, nil, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := protocol.Decode(conn)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Op != protocol.RespErr || !errors.Is(protocol.DecodeError(resp), protocol.ErrUnknownOp) {
		t.Fatalf("expected unknown op error, got %+v", resp)
	}

	if err := protocol.Encode(conn, protocol.OpFormat, nil, []byte{0, 0, 0, 3}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err = protocol.Decode(conn)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !errors.Is(protocol.DecodeError(resp), protocol.ErrMalformed) {
		t.Fatalf("expected malformed error, got %+v", resp)
	}
}
