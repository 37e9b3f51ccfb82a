package tlv

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"
)

// Reader is a pull-style cursor over a TLV byte stream: Next() advances
// to the next element, then exactly one typed accessor (Int, String,
// EnterContainer, ...) consumes its value.
type Reader struct {
	r              io.Reader
	containerStack []ElementType

	hasElement bool
	elemType   ElementType
	tag        Tag
	valueRead  bool

	valueBuf [8]byte
	valueLen int

	stringLen uint64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads the next element's control octet, tag, and value (or, for
// strings, just its length — the bytes themselves are read lazily by
// String/Bytes). It returns io.EOF once the stream is exhausted.
func (r *Reader) Next() error {
	if r.hasElement && !r.valueRead {
		if err := r.discardValue(); err != nil {
			return err
		}
	}

	var ctrl [1]byte
	if _, err := io.ReadFull(r.r, ctrl[:]); err != nil {
		return err
	}

	var tagCtrl TagControl
	r.elemType, tagCtrl = ParseControlOctet(ctrl[0])
	if r.elemType > ElementTypeEnd {
		return ErrInvalidElementType
	}

	tag, err := ReadTag(r.r, tagCtrl)
	if err != nil {
		return err
	}
	r.tag = tag

	if err := r.consumeValueOrLength(); err != nil {
		return err
	}

	r.hasElement = true
	r.valueRead = false
	return nil
}

func (r *Reader) consumeValueOrLength() error {
	switch {
	case r.elemType.IsInt() || r.elemType.IsFloat():
		r.valueLen = r.elemType.ValueSize()
		if r.valueLen > 0 {
			if _, err := io.ReadFull(r.r, r.valueBuf[:r.valueLen]); err != nil {
				return err
			}
		}

	case r.elemType.IsString():
		lenSize := r.elemType.LengthFieldSize()
		var lenBuf [8]byte
		if _, err := io.ReadFull(r.r, lenBuf[:lenSize]); err != nil {
			return err
		}
		switch lenSize {
		case 1:
			r.stringLen = uint64(lenBuf[0])
		case 2:
			r.stringLen = uint64(binary.LittleEndian.Uint16(lenBuf[:2]))
		case 4:
			r.stringLen = uint64(binary.LittleEndian.Uint32(lenBuf[:4]))
		case 8:
			r.stringLen = binary.LittleEndian.Uint64(lenBuf[:8])
		}

	default:
		r.valueLen = 0
		r.stringLen = 0
	}
	return nil
}

func (r *Reader) Type() ElementType    { return r.elemType }
func (r *Reader) Tag() Tag             { return r.tag }
func (r *Reader) HasElement() bool     { return r.hasElement }
func (r *Reader) ContainerDepth() int  { return len(r.containerStack) }
func (r *Reader) IsEndOfContainer() bool {
	return r.hasElement && r.elemType == ElementTypeEnd
}

func (r *Reader) Int() (int64, error) {
	if err := r.checkRead(); err != nil {
		return 0, err
	}
	if !r.elemType.IsSignedInt() {
		return 0, ErrTypeMismatch
	}
	r.valueRead = true

	switch r.elemType {
	case ElementTypeInt8:
		return int64(int8(r.valueBuf[0])), nil
	case ElementTypeInt16:
		return int64(int16(binary.LittleEndian.Uint16(r.valueBuf[:2]))), nil
	case ElementTypeInt32:
		return int64(int32(binary.LittleEndian.Uint32(r.valueBuf[:4]))), nil
	default:
		return int64(binary.LittleEndian.Uint64(r.valueBuf[:8])), nil
	}
}

func (r *Reader) Uint() (uint64, error) {
	if err := r.checkRead(); err != nil {
		return 0, err
	}
	if !r.elemType.IsUnsignedInt() {
		return 0, ErrTypeMismatch
	}
	r.valueRead = true

	switch r.elemType {
	case ElementTypeUInt8:
		return uint64(r.valueBuf[0]), nil
	case ElementTypeUInt16:
		return uint64(binary.LittleEndian.Uint16(r.valueBuf[:2])), nil
	case ElementTypeUInt32:
		return uint64(binary.LittleEndian.Uint32(r.valueBuf[:4])), nil
	default:
		return binary.LittleEndian.Uint64(r.valueBuf[:8]), nil
	}
}

func (r *Reader) Bool() (bool, error) {
	if err := r.checkRead(); err != nil {
		return false, err
	}
	if !r.elemType.IsBool() {
		return false, ErrTypeMismatch
	}
	r.valueRead = true
	return r.elemType == ElementTypeTrue, nil
}

func (r *Reader) Float32() (float32, error) {
	if err := r.checkRead(); err != nil {
		return 0, err
	}
	if r.elemType != ElementTypeFloat32 {
		return 0, ErrTypeMismatch
	}
	r.valueRead = true
	return math.Float32frombits(binary.LittleEndian.Uint32(r.valueBuf[:4])), nil
}

func (r *Reader) Float64() (float64, error) {
	if err := r.checkRead(); err != nil {
		return 0, err
	}
	if r.elemType != ElementTypeFloat64 {
		return 0, ErrTypeMismatch
	}
	r.valueRead = true
	return math.Float64frombits(binary.LittleEndian.Uint64(r.valueBuf[:8])), nil
}

func (r *Reader) String() (string, error) {
	if err := r.checkRead(); err != nil {
		return "", err
	}
	if !r.elemType.IsUTF8String() {
		return "", ErrTypeMismatch
	}
	r.valueRead = true
	if r.stringLen == 0 {
		return "", nil
	}

	data := make([]byte, r.stringLen)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

func (r *Reader) Bytes() ([]byte, error) {
	if err := r.checkRead(); err != nil {
		return nil, err
	}
	if !r.elemType.IsBytes() {
		return nil, ErrTypeMismatch
	}
	r.valueRead = true
	if r.stringLen == 0 {
		return nil, nil
	}

	data := make([]byte, r.stringLen)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (r *Reader) Null() error {
	if err := r.checkRead(); err != nil {
		return err
	}
	if r.elemType != ElementTypeNull {
		return ErrTypeMismatch
	}
	r.valueRead = true
	return nil
}

// checkRead validates the cursor is positioned on an unread element,
// shared by every typed accessor before it checks its own element type.
func (r *Reader) checkRead() error {
	if !r.hasElement {
		return ErrNoElement
	}
	if r.valueRead {
		return ErrValueAlreadyRead
	}
	return nil
}

// EnterContainer descends into the current struct/array/list so the
// next Next() call reads its first child instead of its sibling.
func (r *Reader) EnterContainer() error {
	if !r.hasElement {
		return ErrNoElement
	}
	if !r.elemType.IsContainer() {
		return ErrTypeMismatch
	}
	r.containerStack = append(r.containerStack, r.elemType)
	r.hasElement = false
	r.valueRead = true
	return nil
}

// ExitContainer returns to the enclosing scope, consuming any elements
// the caller left unread up through the matching end-of-container
// marker.
func (r *Reader) ExitContainer() error {
	if len(r.containerStack) == 0 {
		return ErrNotInContainer
	}

	if r.hasElement && r.elemType == ElementTypeEnd {
		r.containerStack = r.containerStack[:len(r.containerStack)-1]
		r.hasElement = false
		return nil
	}

	depth := 1
	for depth > 0 {
		if err := r.Next(); err != nil {
			return err
		}
		if r.elemType == ElementTypeEnd {
			depth--
		} else if r.elemType.IsContainer() {
			depth++
		}
	}

	r.containerStack = r.containerStack[:len(r.containerStack)-1]
	r.hasElement = false
	return nil
}

// Skip discards the current element, recursing into it first if it's a
// container.
func (r *Reader) Skip() error {
	if !r.hasElement {
		return ErrNoElement
	}
	if r.elemType.IsContainer() {
		if err := r.EnterContainer(); err != nil {
			return err
		}
		return r.ExitContainer()
	}
	return r.discardValue()
}

func (r *Reader) discardValue() error {
	if r.valueRead {
		return nil
	}
	r.valueRead = true
	if r.elemType.IsString() && r.stringLen > 0 {
		_, err := io.CopyN(io.Discard, r.r, int64(r.stringLen))
		return err
	}
	return nil
}
