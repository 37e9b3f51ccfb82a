package tlv

import (
	"encoding/binary"
	"io"
)

// RawBytes reads the current element back out as its own encoded TLV
// bytes — control octet, tag, and value, recursing into containers —
// so it can be re-tagged and spliced into another stream via
// (*Writer).PutRaw without re-encoding its contents.
func (r *Reader) RawBytes() ([]byte, error) {
	if !r.hasElement {
		return nil, ErrNoElement
	}

	out := []byte{BuildControlOctet(r.elemType, r.tag.Control())}

	tagBytes, err := marshalTagBytes(r.tag)
	if err != nil {
		return nil, err
	}
	out = append(out, tagBytes...)

	switch {
	case r.elemType.IsContainer():
		if err := r.EnterContainer(); err != nil {
			return nil, err
		}
		for {
			if err := r.Next(); err != nil {
				if err == io.EOF {
					break
				}
				return nil, err
			}
			if r.IsEndOfContainer() {
				break
			}
			nested, err := r.RawBytes()
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
		if err := r.ExitContainer(); err != nil {
			return nil, err
		}
		out = append(out, byte(ElementTypeEnd))

	case r.elemType.IsString():
		out = append(out, lengthFieldBytes(r.stringLen, r.elemType.LengthFieldSize())...)
		if r.stringLen > 0 {
			data := make([]byte, r.stringLen)
			if _, err := io.ReadFull(r.r, data); err != nil {
				return nil, err
			}
			out = append(out, data...)
		}
		r.valueRead = true

	default:
		out = append(out, r.valueBuf[:r.valueLen]...)
		r.valueRead = true
	}

	return out, nil
}

// marshalTagBytes encodes tag's on-wire bytes without its control
// octet — used by RawBytes, which builds the control octet separately
// since it already knows the element's type.
func marshalTagBytes(tag Tag) ([]byte, error) {
	switch tag.Control() {
	case TagControlAnonymous:
		return nil, nil
	case TagControlContext:
		return []byte{byte(tag.TagNumber())}, nil
	case TagControlCommonProfile2, TagControlImplicitProfile2:
		return []byte{byte(tag.TagNumber()), byte(tag.TagNumber() >> 8)}, nil
	case TagControlCommonProfile4, TagControlImplicitProfile4:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, tag.TagNumber())
		return b, nil
	case TagControlFullyQualified6:
		b := make([]byte, 6)
		binary.LittleEndian.PutUint16(b[0:], tag.VendorID())
		binary.LittleEndian.PutUint16(b[2:], tag.ProfileNumber())
		binary.LittleEndian.PutUint16(b[4:], uint16(tag.TagNumber()))
		return b, nil
	case TagControlFullyQualified8:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint16(b[0:], tag.VendorID())
		binary.LittleEndian.PutUint16(b[2:], tag.ProfileNumber())
		binary.LittleEndian.PutUint32(b[4:], tag.TagNumber())
		return b, nil
	default:
		return nil, ErrInvalidTagControl
	}
}

func lengthFieldBytes(length uint64, fieldSize int) []byte {
	b := make([]byte, fieldSize)
	switch fieldSize {
	case 1:
		b[0] = byte(length)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(length))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(length))
	case 8:
		binary.LittleEndian.PutUint64(b, length)
	}
	return b
}
