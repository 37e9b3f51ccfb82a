package tlv

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"
)

// Writer emits TLV elements to an io.Writer. Put* methods choose the
// narrowest encoding that fits the value; callers needing a specific
// width (e.g. to match a schema) use the *WithWidth variants.
type Writer struct {
	w              io.Writer
	containerStack []ElementType
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) putHeader(elemType ElementType, tag Tag) error {
	if _, err := w.w.Write([]byte{BuildControlOctet(elemType, tag.Control())}); err != nil {
		return err
	}
	_, err := tag.WriteTo(w.w)
	return err
}

func (w *Writer) putFixed(elemType ElementType, tag Tag, value []byte) error {
	if err := w.putHeader(elemType, tag); err != nil {
		return err
	}
	_, err := w.w.Write(value)
	return err
}

func (w *Writer) PutInt(tag Tag, v int64) error {
	var buf [8]byte
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		buf[0] = byte(v)
		return w.putFixed(ElementTypeInt8, tag, buf[:1])
	case v >= math.MinInt16 && v <= math.MaxInt16:
		binary.LittleEndian.PutUint16(buf[:2], uint16(v))
		return w.putFixed(ElementTypeInt16, tag, buf[:2])
	case v >= math.MinInt32 && v <= math.MaxInt32:
		binary.LittleEndian.PutUint32(buf[:4], uint32(v))
		return w.putFixed(ElementTypeInt32, tag, buf[:4])
	default:
		binary.LittleEndian.PutUint64(buf[:8], uint64(v))
		return w.putFixed(ElementTypeInt64, tag, buf[:8])
	}
}

// PutIntWithWidth writes v at a caller-chosen width (1, 2, 4 or 8
// bytes) rather than the narrowest one that fits.
func (w *Writer) PutIntWithWidth(tag Tag, v int64, width int) error {
	var buf [8]byte
	switch width {
	case 1:
		buf[0] = byte(v)
		return w.putFixed(ElementTypeInt8, tag, buf[:1])
	case 2:
		binary.LittleEndian.PutUint16(buf[:2], uint16(v))
		return w.putFixed(ElementTypeInt16, tag, buf[:2])
	case 4:
		binary.LittleEndian.PutUint32(buf[:4], uint32(v))
		return w.putFixed(ElementTypeInt32, tag, buf[:4])
	case 8:
		binary.LittleEndian.PutUint64(buf[:8], uint64(v))
		return w.putFixed(ElementTypeInt64, tag, buf[:8])
	default:
		return ErrInvalidElementType
	}
}

func (w *Writer) PutUint(tag Tag, v uint64) error {
	var buf [8]byte
	switch {
	case v <= math.MaxUint8:
		buf[0] = byte(v)
		return w.putFixed(ElementTypeUInt8, tag, buf[:1])
	case v <= math.MaxUint16:
		binary.LittleEndian.PutUint16(buf[:2], uint16(v))
		return w.putFixed(ElementTypeUInt16, tag, buf[:2])
	case v <= math.MaxUint32:
		binary.LittleEndian.PutUint32(buf[:4], uint32(v))
		return w.putFixed(ElementTypeUInt32, tag, buf[:4])
	default:
		binary.LittleEndian.PutUint64(buf[:8], v)
		return w.putFixed(ElementTypeUInt64, tag, buf[:8])
	}
}

func (w *Writer) PutUintWithWidth(tag Tag, v uint64, width int) error {
	var buf [8]byte
	switch width {
	case 1:
		buf[0] = byte(v)
		return w.putFixed(ElementTypeUInt8, tag, buf[:1])
	case 2:
		binary.LittleEndian.PutUint16(buf[:2], uint16(v))
		return w.putFixed(ElementTypeUInt16, tag, buf[:2])
	case 4:
		binary.LittleEndian.PutUint32(buf[:4], uint32(v))
		return w.putFixed(ElementTypeUInt32, tag, buf[:4])
	case 8:
		binary.LittleEndian.PutUint64(buf[:8], v)
		return w.putFixed(ElementTypeUInt64, tag, buf[:8])
	default:
		return ErrInvalidElementType
	}
}

func (w *Writer) PutBool(tag Tag, v bool) error {
	elemType := ElementTypeFalse
	if v {
		elemType = ElementTypeTrue
	}
	return w.putHeader(elemType, tag)
}

func (w *Writer) PutFloat32(tag Tag, v float32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
	return w.putFixed(ElementTypeFloat32, tag, buf[:])
}

func (w *Writer) PutFloat64(tag Tag, v float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	return w.putFixed(ElementTypeFloat64, tag, buf[:])
}

func (w *Writer) PutString(tag Tag, v string) error {
	if !utf8.ValidString(v) {
		return ErrInvalidUTF8
	}
	return w.putVariable(true, tag, []byte(v))
}

func (w *Writer) PutBytes(tag Tag, v []byte) error {
	return w.putVariable(false, tag, v)
}

// putVariable writes a UTF-8 or octet string, picking the narrowest
// length-field width the data needs.
func (w *Writer) putVariable(isUTF8 bool, tag Tag, data []byte) error {
	length := uint64(len(data))

	var elemType ElementType
	var lenBuf [8]byte
	var lenSize int

	switch {
	case length <= math.MaxUint8:
		lenSize = 1
		lenBuf[0] = byte(length)
		elemType = pickStringType(isUTF8, ElementTypeUTF8_1, ElementTypeBytes1)
	case length <= math.MaxUint16:
		lenSize = 2
		binary.LittleEndian.PutUint16(lenBuf[:2], uint16(length))
		elemType = pickStringType(isUTF8, ElementTypeUTF8_2, ElementTypeBytes2)
	case length <= math.MaxUint32:
		lenSize = 4
		binary.LittleEndian.PutUint32(lenBuf[:4], uint32(length))
		elemType = pickStringType(isUTF8, ElementTypeUTF8_4, ElementTypeBytes4)
	default:
		lenSize = 8
		binary.LittleEndian.PutUint64(lenBuf[:8], length)
		elemType = pickStringType(isUTF8, ElementTypeUTF8_8, ElementTypeBytes8)
	}

	if err := w.putHeader(elemType, tag); err != nil {
		return err
	}
	if _, err := w.w.Write(lenBuf[:lenSize]); err != nil {
		return err
	}
	_, err := w.w.Write(data)
	return err
}

func pickStringType(isUTF8 bool, utf8Type, bytesType ElementType) ElementType {
	if isUTF8 {
		return utf8Type
	}
	return bytesType
}

// PutRaw splices a previously captured element (see Reader.RawBytes)
// into this stream under a new tag, without decoding its value.
func (w *Writer) PutRaw(tag Tag, rawTLV []byte) error {
	if len(rawTLV) == 0 {
		return nil
	}

	controlByte := rawTLV[0]
	elemType := ElementType(controlByte & elementTypeMask)
	if err := w.putHeader(elemType, tag); err != nil {
		return err
	}

	originalTagControl := TagControl((controlByte & tagControlMask) >> tagControlShift)
	skip := 1 + originalTagControl.Size()
	if skip < len(rawTLV) {
		_, err := w.w.Write(rawTLV[skip:])
		return err
	}
	return nil
}

func (w *Writer) PutNull(tag Tag) error {
	return w.putHeader(ElementTypeNull, tag)
}

func (w *Writer) StartStructure(tag Tag) error { return w.startContainer(ElementTypeStruct, tag) }
func (w *Writer) StartArray(tag Tag) error     { return w.startContainer(ElementTypeArray, tag) }
func (w *Writer) StartList(tag Tag) error      { return w.startContainer(ElementTypeList, tag) }

func (w *Writer) startContainer(elemType ElementType, tag Tag) error {
	if err := w.putHeader(elemType, tag); err != nil {
		return err
	}
	w.containerStack = append(w.containerStack, elemType)
	return nil
}

func (w *Writer) EndContainer() error {
	if len(w.containerStack) == 0 {
		return ErrNotInContainer
	}
	w.containerStack = w.containerStack[:len(w.containerStack)-1]
	_, err := w.w.Write([]byte{byte(ElementTypeEnd)})
	return err
}

func (w *Writer) ContainerDepth() int { return len(w.containerStack) }
