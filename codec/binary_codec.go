package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"frame-server/message"
)

// BinaryCodec encodes the message unions in a compact big-endian layout:
// one op byte, then the fields of the active variant. Responses carry a
// length-prefixed error string between the op byte and the variant fields.
// An empty message (OpNone) encodes to the single op byte.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *message.Request:
		return encodeRequest(msg)
	case *message.Response:
		return encodeResponse(msg)
	default:
		return nil, errors.New("BinaryCodec: v must be *message.Request or *message.Response")
	}
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	switch msg := v.(type) {
	case *message.Request:
		return decodeRequest(data, msg)
	case *message.Response:
		return decodeResponse(data, msg)
	default:
		return errors.New("BinaryCodec: v must be *message.Request or *message.Response")
	}
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func encodeRequest(req *message.Request) ([]byte, error) {
	switch req.Op {
	case message.OpNone:
		return []byte{byte(message.OpNone)}, nil

	case message.OpEcho:
		if req.Echo == nil {
			return nil, errors.New("BinaryCodec: echo request without variant")
		}
		buf := make([]byte, 1+4+len(req.Echo.Payload))
		buf[0] = byte(message.OpEcho)
		binary.BigEndian.PutUint32(buf[1:5], uint32(len(req.Echo.Payload)))
		copy(buf[5:], req.Echo.Payload)
		return buf, nil

	case message.OpAdd:
		if req.Add == nil {
			return nil, errors.New("BinaryCodec: add request without variant")
		}
		buf := make([]byte, 1+8+8)
		buf[0] = byte(message.OpAdd)
		binary.BigEndian.PutUint64(buf[1:9], uint64(req.Add.A))
		binary.BigEndian.PutUint64(buf[9:17], uint64(req.Add.B))
		return buf, nil

	default:
		return nil, fmt.Errorf("BinaryCodec: unknown request op %d", req.Op)
	}
}

func decodeRequest(data []byte, req *message.Request) error {
	*req = message.Request{}
	if len(data) == 0 {
		// No bytes at all is the empty message, same as an explicit OpNone.
		return nil
	}

	switch message.Op(data[0]) {
	case message.OpNone:
		return nil

	case message.OpEcho:
		if len(data) < 5 {
			return errors.New("BinaryCodec: data too short for echo payload length")
		}
		payloadLen := binary.BigEndian.Uint32(data[1:5])
		if len(data) < 5+int(payloadLen) {
			return errors.New("BinaryCodec: data too short for echo payload")
		}
		payload := make([]byte, payloadLen)
		copy(payload, data[5:5+payloadLen])
		req.Op = message.OpEcho
		req.Echo = &message.EchoRequest{Payload: payload}
		return nil

	case message.OpAdd:
		if len(data) < 17 {
			return errors.New("BinaryCodec: data too short for add operands")
		}
		req.Op = message.OpAdd
		req.Add = &message.AddRequest{
			A: int64(binary.BigEndian.Uint64(data[1:9])),
			B: int64(binary.BigEndian.Uint64(data[9:17])),
		}
		return nil

	default:
		return fmt.Errorf("BinaryCodec: unknown request op %d", data[0])
	}
}

func encodeResponse(resp *message.Response) ([]byte, error) {
	errBytes := []byte(resp.Err)
	head := make([]byte, 1+2+len(errBytes))
	head[0] = byte(resp.Op)
	binary.BigEndian.PutUint16(head[1:3], uint16(len(errBytes)))
	copy(head[3:], errBytes)

	switch resp.Op {
	case message.OpNone:
		return head, nil

	case message.OpEcho:
		if resp.Echo == nil {
			return head, nil
		}
		buf := make([]byte, len(head)+4+len(resp.Echo.Payload))
		copy(buf, head)
		binary.BigEndian.PutUint32(buf[len(head):len(head)+4], uint32(len(resp.Echo.Payload)))
		copy(buf[len(head)+4:], resp.Echo.Payload)
		return buf, nil

	case message.OpAdd:
		if resp.Add == nil {
			return head, nil
		}
		buf := make([]byte, len(head)+8)
		copy(buf, head)
		binary.BigEndian.PutUint64(buf[len(head):], uint64(resp.Add.Result))
		return buf, nil

	default:
		return nil, fmt.Errorf("BinaryCodec: unknown response op %d", resp.Op)
	}
}

func decodeResponse(data []byte, resp *message.Response) error {
	*resp = message.Response{}
	if len(data) < 3 {
		return errors.New("BinaryCodec: data too short for response header")
	}

	resp.Op = message.Op(data[0])
	errLen := binary.BigEndian.Uint16(data[1:3])
	if len(data) < 3+int(errLen) {
		return errors.New("BinaryCodec: data too short for error string")
	}
	resp.Err = string(data[3 : 3+errLen])
	rest := data[3+errLen:]

	// An error response carries no variant fields.
	if resp.Err != "" {
		return nil
	}

	switch resp.Op {
	case message.OpNone:
		return nil

	case message.OpEcho:
		if len(rest) < 4 {
			return errors.New("BinaryCodec: data too short for echo payload length")
		}
		payloadLen := binary.BigEndian.Uint32(rest[:4])
		if len(rest) < 4+int(payloadLen) {
			return errors.New("BinaryCodec: data too short for echo payload")
		}
		payload := make([]byte, payloadLen)
		copy(payload, rest[4:4+payloadLen])
		resp.Echo = &message.EchoResponse{Payload: payload}
		return nil

	case message.OpAdd:
		if len(rest) < 8 {
			return errors.New("BinaryCodec: data too short for add result")
		}
		resp.Add = &message.AddResponse{Result: int64(binary.BigEndian.Uint64(rest[:8]))}
		return nil

	default:
		return fmt.Errorf("BinaryCodec: unknown response op %d", data[0])
	}
}
