package message

import "encoding/binary"

// Exchange Flags bit layout (Section 4.4.3.1).
const (
	exchFlagInitiatorBit uint8 = 0x01
	exchFlagAckBit       uint8 = 0x02
	exchFlagReliableBit  uint8 = 0x04
	exchFlagSecExtBit    uint8 = 0x08
	exchFlagVendorBit    uint8 = 0x10
)

// ProtocolHeader is the first part of the (possibly encrypted) Message
// Payload: it names the protocol/opcode a message carries and the
// exchange it belongs to (Section 4.4.3).
type ProtocolHeader struct {
	ProtocolID       ProtocolID
	ProtocolOpcode   uint8
	ExchangeID       uint16
	ProtocolVendorID uint16 // only meaningful when VendorPresent

	// AckedMessageCounter names the message being acknowledged; only
	// meaningful when Acknowledgement is set.
	AckedMessageCounter uint32

	Initiator         bool // I flag: sent by the exchange initiator
	Acknowledgement   bool // A flag: this message acks another
	Reliability       bool // R flag: sender wants an ack
	SecuredExtensions bool // SX flag — must stay false on a 1.0 node
	VendorPresent     bool // V flag: ProtocolVendorID field follows
}

func (p *ProtocolHeader) Size() int {
	n := MinProtocolHeaderSize
	if p.VendorPresent {
		n += 2
	}
	if p.Acknowledgement {
		n += 4
	}
	return n
}

func (p *ProtocolHeader) Encode() []byte {
	buf := make([]byte, p.Size())
	p.EncodeTo(buf)
	return buf
}

// EncodeTo writes the protocol header into buf and returns bytes written.
func (p *ProtocolHeader) EncodeTo(buf []byte) int {
	off := 0
	buf[off] = p.exchangeFlags()
	off++
	buf[off] = p.ProtocolOpcode
	off++

	binary.LittleEndian.PutUint16(buf[off:], p.ExchangeID)
	off += 2

	if p.VendorPresent {
		binary.LittleEndian.PutUint16(buf[off:], p.ProtocolVendorID)
		off += 2
	}

	binary.LittleEndian.PutUint16(buf[off:], uint16(p.ProtocolID))
	off += 2

	if p.Acknowledgement {
		binary.LittleEndian.PutUint32(buf[off:], p.AckedMessageCounter)
		off += 4
	}

	return off
}

func (p *ProtocolHeader) exchangeFlags() uint8 {
	var flags uint8
	if p.Initiator {
		flags |= exchFlagInitiatorBit
	}
	if p.Acknowledgement {
		flags |= exchFlagAckBit
	}
	if p.Reliability {
		flags |= exchFlagReliableBit
	}
	if p.SecuredExtensions {
		flags |= exchFlagSecExtBit
	}
	if p.VendorPresent {
		flags |= exchFlagVendorBit
	}
	return flags
}

// Decode parses a protocol header from the front of data, returning bytes
// consumed.
func (p *ProtocolHeader) Decode(data []byte) (int, error) {
	if len(data) < MinProtocolHeaderSize {
		return 0, ErrPayloadTooShort
	}

	off := 0
	exchFlags := data[off]
	off++

	p.Initiator = exchFlags&exchFlagInitiatorBit != 0
	p.Acknowledgement = exchFlags&exchFlagAckBit != 0
	p.Reliability = exchFlags&exchFlagReliableBit != 0
	p.SecuredExtensions = exchFlags&exchFlagSecExtBit != 0
	p.VendorPresent = exchFlags&exchFlagVendorBit != 0

	p.ProtocolOpcode = data[off]
	off++

	p.ExchangeID = binary.LittleEndian.Uint16(data[off:])
	off += 2

	need := off + 2
	if p.VendorPresent {
		need += 2
	}
	if p.Acknowledgement {
		need += 4
	}
	if len(data) < need {
		return 0, ErrPayloadTooShort
	}

	if p.VendorPresent {
		p.ProtocolVendorID = binary.LittleEndian.Uint16(data[off:])
		off += 2
	} else {
		p.ProtocolVendorID = VendorIDMatter
	}

	p.ProtocolID = ProtocolID(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	if p.Acknowledgement {
		p.AckedMessageCounter = binary.LittleEndian.Uint32(data[off:])
		off += 4
	} else {
		p.AckedMessageCounter = 0
	}

	return off, nil
}

func (p *ProtocolHeader) IsSecureChannel() bool {
	return p.ProtocolVendorID == VendorIDMatter && p.ProtocolID == ProtocolSecureChannel
}

func (p *ProtocolHeader) IsInteractionModel() bool {
	return p.ProtocolVendorID == VendorIDMatter && p.ProtocolID == ProtocolInteractionModel
}

func (p *ProtocolHeader) NeedsAck() bool { return p.Reliability }
func (p *ProtocolHeader) IsAck() bool    { return p.Acknowledgement }
