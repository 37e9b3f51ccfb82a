package message

import (
	"encoding/binary"
	"io"
)

// Frame is a fully decoded message: header, protocol header and
// application payload all directly accessible. Unsecured handshake
// messages decode straight into a Frame; secured ones become a Frame once
// a Codec has decrypted them.
type Frame struct {
	Header   MessageHeader
	Protocol ProtocolHeader
	Payload  []byte
}

// EncodeUnsecured serializes the frame with no encryption, as used for
// PASE/CASE handshake messages.
func (f *Frame) EncodeUnsecured() []byte {
	total := f.Header.Size() + f.Protocol.Size() + len(f.Payload)
	buf := make([]byte, total)
	off := f.Header.EncodeTo(buf)
	off += f.Protocol.EncodeTo(buf[off:])
	copy(buf[off:], f.Payload)
	return buf
}

// DecodeUnsecured parses an unsecured frame.
func DecodeUnsecured(data []byte) (*Frame, error) {
	f := &Frame{}

	headerLen, err := f.Header.Decode(data)
	if err != nil {
		return nil, err
	}
	if len(data) < headerLen {
		return nil, ErrMessageTooShort
	}

	protocolLen, err := f.Protocol.Decode(data[headerLen:])
	if err != nil {
		return nil, err
	}

	payloadStart := headerLen + protocolLen
	if len(data) > payloadStart {
		f.Payload = append([]byte(nil), data[payloadStart:]...)
	}

	return f, nil
}

// RawFrame is a message still in its on-wire secured form: the protocol
// header and payload remain inside the encrypted+MIC'd block. Use a Codec
// to turn one into a Frame.
type RawFrame struct {
	Header           MessageHeader
	EncryptedPayload []byte
	MIC              []byte
}

func (r *RawFrame) EncodeRaw() []byte {
	total := r.Header.Size() + len(r.EncryptedPayload) + len(r.MIC)
	buf := make([]byte, total)
	off := r.Header.EncodeTo(buf)
	off += copy(buf[off:], r.EncryptedPayload)
	copy(buf[off:], r.MIC)
	return buf
}

// DecodeRaw splits wire data into header, ciphertext and MIC without
// attempting decryption.
func DecodeRaw(data []byte) (*RawFrame, error) {
	r := &RawFrame{}

	headerLen, err := r.Header.Decode(data)
	if err != nil {
		return nil, err
	}

	if !r.Header.IsSecure() {
		if len(data) > headerLen {
			r.EncryptedPayload = append([]byte(nil), data[headerLen:]...)
		}
		return r, nil
	}

	if len(data) < headerLen+MICSize {
		return nil, ErrMessageTooShort
	}
	micStart := len(data) - MICSize
	r.EncryptedPayload = append([]byte(nil), data[headerLen:micStart]...)
	r.MIC = append([]byte(nil), data[micStart:]...)
	return r, nil
}

// TotalSize is the on-wire length of the raw frame.
func (r *RawFrame) TotalSize() int {
	n := r.Header.Size() + len(r.EncryptedPayload)
	if r.Header.IsSecure() {
		n += MICSize
	}
	return n
}

// StreamWriter adds TCP length-prefix framing (Section 4.5.1) around
// frames written to w.
type StreamWriter struct {
	w io.Writer
}

func NewStreamWriter(w io.Writer) *StreamWriter { return &StreamWriter{w: w} }

func (sw *StreamWriter) Write(frame []byte) (int, error) {
	var prefix [TCPLengthPrefixSize]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(frame)))

	n, err := sw.w.Write(prefix[:])
	if err != nil {
		return n, err
	}
	m, err := sw.w.Write(frame)
	return n + m, err
}

func (sw *StreamWriter) WriteFrame(frame *RawFrame) error {
	_, err := sw.Write(frame.EncodeRaw())
	return err
}

// StreamReader reads TCP length-prefixed frames written by a StreamWriter.
type StreamReader struct {
	r io.Reader
}

func NewStreamReader(r io.Reader) *StreamReader { return &StreamReader{r: r} }

// Read returns one frame's bytes, with the length prefix stripped.
func (sr *StreamReader) Read() ([]byte, error) {
	var prefix [TCPLengthPrefixSize]byte
	if _, err := io.ReadFull(sr.r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, ErrStreamReadFailed
	}

	frameLen := binary.LittleEndian.Uint32(prefix[:])
	if frameLen == 0 {
		return nil, ErrInvalidLengthPrefix
	}
	if frameLen > MaxUDPMessageSize*2 {
		return nil, ErrMessageTooLong
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(sr.r, frame); err != nil {
		return nil, ErrStreamReadFailed
	}
	return frame, nil
}

func (sr *StreamReader) ReadFrame() (*RawFrame, error) {
	data, err := sr.Read()
	if err != nil {
		return nil, err
	}
	return DecodeRaw(data)
}

// EncodeWithLengthPrefix prepends a 4-byte little-endian length to frame,
// for transports (TCP) that need explicit message boundaries.
func EncodeWithLengthPrefix(frame []byte) []byte {
	buf := make([]byte, TCPLengthPrefixSize+len(frame))
	binary.LittleEndian.PutUint32(buf[:TCPLengthPrefixSize], uint32(len(frame)))
	copy(buf[TCPLengthPrefixSize:], frame)
	return buf
}

// ValidateSize rejects frames larger than the UDP MTU.
func ValidateSize(data []byte) error {
	if len(data) > MaxUDPMessageSize {
		return ErrMessageTooLong
	}
	return nil
}
