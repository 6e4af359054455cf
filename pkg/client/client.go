package client

import (
	"errors"
	"net"
	"time"

	"polyfit/pkg/common"
	"polyfit/pkg/model"
	"polyfit/pkg/protocol"
)

var ErrUnexpectedResponse = errors.New("unknown response")

type Client struct {
	conn net.Conn
	addr string
}

func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		addr: addr,
	}, nil
}

// Interpolate asks the server for the coefficients through points.
func (c *Client) Interpolate(points []common.Point) (model.Coefficients, error) {
	val, err := c.call(protocol.OpInterpolate, nil, protocol.EncodePoints(points))
	if err != nil {
		return nil, err
	}
	coeffs, err := protocol.DecodeFloats(val)
	if err != nil {
		return nil, err
	}
	return model.Coefficients(coeffs), nil
}

func (c *Client) Evaluate(coeffs model.Coefficients, x float64) (float64, error) {
	val, err := c.call(protocol.OpEvaluate, protocol.EncodeFloat(x), protocol.EncodeFloats(coeffs))
	if err != nil {
		return 0, err
	}
	return protocol.DecodeFloat(val)
}

func (c *Client) Format(coeffs model.Coefficients) (string, error) {
	val, err := c.call(protocol.OpFormat, nil, protocol.EncodeFloats(coeffs))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request, reconnecting and retrying once on a transport error.
func (c *Client) call(op byte, key, val []byte) ([]byte, error) {
	pkg, err := c.roundTrip(op, key, val)
	if err != nil {
		if rerr := c.reconnect(); rerr != nil {
			return nil, err
		}
		if pkg, err = c.roundTrip(op, key, val); err != nil {
			return nil, err
		}
	}

	switch pkg.Op {
	case protocol.RespVal:
		return pkg.Value, nil
	case protocol.RespErr:
		return nil, protocol.DecodeError(pkg)
	default:
		return nil, ErrUnexpectedResponse
	}
}

func (c *Client) roundTrip(op byte, key, val []byte) (*protocol.Packet, error) {
	if err := protocol.Encode(c.conn, op, key, val); err != nil {
		return nil, err
	}
	return protocol.Decode(c.conn)
}

func (c *Client) reconnect() error {
	c.conn.Close()
	conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}
