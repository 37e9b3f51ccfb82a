package im

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/larkspur-iot/chip-core/pkg/exchange"
)

// Opcode identifies an Interaction Model message type (Matter Specification
// Section 8, Table 9). Only the opcodes the Engine frames are listed; the
// rest (subscribe, report, timed request) are the external collaborator's
// concern once wired in.
type Opcode uint8

const (
	OpcodeStatusResponse Opcode = 0x01
	OpcodeReadRequest     Opcode = 0x02
	OpcodeWriteRequest    Opcode = 0x06
	OpcodeWriteResponse   Opcode = 0x07
	OpcodeInvokeRequest   Opcode = 0x08
	OpcodeInvokeResponse  Opcode = 0x09
)

var ErrMalformedFrame = errors.New("im: malformed frame")

// Engine adapts a Chain to exchange.ProtocolHandler. It owns a minimal,
// self-contained envelope around AttributePath/CommandPath — the full
// TLV-encoded Interaction Model wire format (AttributeDataIB, paths with
// wildcard tags, data version filters, and so on) is produced by an
// external TLV-and-cluster collaborator; this envelope exists only so the
// core's tests can drive the handler-chain contract end to end without
// that collaborator.
type Engine struct {
	chain *Chain
}

// NewEngine creates an Engine dispatching through chain.
func NewEngine(chain *Chain) *Engine {
	return &Engine{chain: chain}
}

// OnUnsolicited handles the first message on a newly created exchange.
func (e *Engine) OnUnsolicited(ctx *exchange.Exchange, opcode uint8, payload []byte) ([]byte, error) {
	return e.dispatch(ctx, Opcode(opcode), payload)
}

// OnMessage handles a subsequent message on an existing exchange.
func (e *Engine) OnMessage(ctx *exchange.Exchange, opcode uint8, payload []byte) ([]byte, error) {
	return e.dispatch(ctx, Opcode(opcode), payload)
}

func (e *Engine) dispatch(exCtx *exchange.Exchange, opcode Opcode, payload []byte) ([]byte, error) {
	goCtx := context.Background()

	switch opcode {
	case OpcodeReadRequest:
		endpoint, cluster, attribute, err := decodeAttributeHeader(payload)
		if err != nil {
			return nil, err
		}
		result, err := e.chain.HandleRead(goCtx, AttributePath{
			EndpointID:  &endpoint,
			ClusterID:   &cluster,
			AttributeID: &attribute,
		})
		if err != nil {
			return nil, err
		}
		return encodeAttributeData(result), nil

	case OpcodeWriteRequest:
		endpoint, cluster, attribute, rest, err := decodeAttributeHeaderWithData(payload)
		if err != nil {
			return nil, err
		}
		if err := e.chain.HandleWrite(goCtx, AttributePath{
			EndpointID:  &endpoint,
			ClusterID:   &cluster,
			AttributeID: &attribute,
		}, rest); err != nil {
			return nil, err
		}
		return []byte{byte(OpcodeWriteResponse)}, nil

	case OpcodeInvokeRequest:
		cmd, rest, err := decodeCommandHeader(payload)
		if err != nil {
			return nil, err
		}
		txn := &Transaction{ExchangeID: exCtx.ID}
		resp, err := e.chain.HandleInvoke(goCtx, txn, cmd, rest)
		if err != nil {
			return nil, err
		}
		return encodeInvokeResponse(resp), nil

	default:
		return nil, ErrMalformedFrame
	}
}

// decodeAttributeHeader reads a fixed [endpoint:2][cluster:4][attribute:4]
// little-endian header used by the Engine's own read-request envelope.
func decodeAttributeHeader(payload []byte) (endpoint uint16, cluster uint32, attribute uint32, err error) {
	if len(payload) < 10 {
		return 0, 0, 0, ErrMalformedFrame
	}
	endpoint = binary.LittleEndian.Uint16(payload[0:2])
	cluster = binary.LittleEndian.Uint32(payload[2:6])
	attribute = binary.LittleEndian.Uint32(payload[6:10])
	return endpoint, cluster, attribute, nil
}

func decodeAttributeHeaderWithData(payload []byte) (endpoint uint16, cluster uint32, attribute uint32, rest []byte, err error) {
	endpoint, cluster, attribute, err = decodeAttributeHeader(payload)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	return endpoint, cluster, attribute, payload[10:], nil
}

func decodeCommandHeader(payload []byte) (CommandPath, []byte, error) {
	if len(payload) < 10 {
		return CommandPath{}, nil, ErrMalformedFrame
	}
	cmd := CommandPath{
		EndpointID: binary.LittleEndian.Uint16(payload[0:2]),
		ClusterID:  binary.LittleEndian.Uint32(payload[2:6]),
		CommandID:  binary.LittleEndian.Uint32(payload[6:10]),
	}
	return cmd, payload[10:], nil
}

func encodeAttributeData(data AttributeDataIB) []byte {
	buf := make([]byte, 4+len(data.Data))
	binary.LittleEndian.PutUint32(buf[0:4], data.DataVersion)
	copy(buf[4:], data.Data)
	return buf
}

func encodeInvokeResponse(resp CommandResponse) []byte {
	buf := make([]byte, 4+len(resp.Data))
	binary.LittleEndian.PutUint32(buf[0:4], resp.CommandID)
	copy(buf[4:], resp.Data)
	return buf
}

var _ exchange.ProtocolHandler = (*Engine)(nil)
