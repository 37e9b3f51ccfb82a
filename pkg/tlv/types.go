// Package tlv implements Matter's TLV (Tag-Length-Value) wire encoding,
// Appendix A of the Matter core specification. Every element is a
// control octet (tag form in the high 3 bits, value type in the low 5),
// followed by zero or more tag bytes, followed by the value.
package tlv

// ElementType is the value-type field packed into the low 5 bits of a
// TLV control octet (Spec A.7.1).
type ElementType int

const (
	ElementTypeInt8    ElementType = 0x00
	ElementTypeInt16   ElementType = 0x01
	ElementTypeInt32   ElementType = 0x02
	ElementTypeInt64   ElementType = 0x03
	ElementTypeUInt8   ElementType = 0x04
	ElementTypeUInt16  ElementType = 0x05
	ElementTypeUInt32  ElementType = 0x06
	ElementTypeUInt64  ElementType = 0x07
	ElementTypeFalse   ElementType = 0x08
	ElementTypeTrue    ElementType = 0x09
	ElementTypeFloat32 ElementType = 0x0A
	ElementTypeFloat64 ElementType = 0x0B
	ElementTypeUTF8_1  ElementType = 0x0C
	ElementTypeUTF8_2  ElementType = 0x0D
	ElementTypeUTF8_4  ElementType = 0x0E
	ElementTypeUTF8_8  ElementType = 0x0F
	ElementTypeBytes1  ElementType = 0x10
	ElementTypeBytes2  ElementType = 0x11
	ElementTypeBytes4  ElementType = 0x12
	ElementTypeBytes8  ElementType = 0x13
	ElementTypeNull    ElementType = 0x14
	ElementTypeStruct  ElementType = 0x15
	ElementTypeArray   ElementType = 0x16
	ElementTypeList    ElementType = 0x17
	ElementTypeEnd     ElementType = 0x18
)

var elementTypeNames = map[ElementType]string{
	ElementTypeInt8: "Int8", ElementTypeInt16: "Int16", ElementTypeInt32: "Int32", ElementTypeInt64: "Int64",
	ElementTypeUInt8: "UInt8", ElementTypeUInt16: "UInt16", ElementTypeUInt32: "UInt32", ElementTypeUInt64: "UInt64",
	ElementTypeFalse: "False", ElementTypeTrue: "True",
	ElementTypeFloat32: "Float32", ElementTypeFloat64: "Float64",
	ElementTypeUTF8_1: "UTF8_1", ElementTypeUTF8_2: "UTF8_2", ElementTypeUTF8_4: "UTF8_4", ElementTypeUTF8_8: "UTF8_8",
	ElementTypeBytes1: "Bytes1", ElementTypeBytes2: "Bytes2", ElementTypeBytes4: "Bytes4", ElementTypeBytes8: "Bytes8",
	ElementTypeNull: "Null", ElementTypeStruct: "Struct", ElementTypeArray: "Array", ElementTypeList: "List",
	ElementTypeEnd: "EndOfContainer",
}

func (e ElementType) String() string {
	if name, ok := elementTypeNames[e]; ok {
		return name
	}
	return "Unknown"
}

func (e ElementType) IsSignedInt() bool   { return e >= ElementTypeInt8 && e <= ElementTypeInt64 }
func (e ElementType) IsUnsignedInt() bool { return e >= ElementTypeUInt8 && e <= ElementTypeUInt64 }
func (e ElementType) IsInt() bool         { return e.IsSignedInt() || e.IsUnsignedInt() }
func (e ElementType) IsBool() bool        { return e == ElementTypeFalse || e == ElementTypeTrue }
func (e ElementType) IsFloat() bool       { return e == ElementTypeFloat32 || e == ElementTypeFloat64 }
func (e ElementType) IsUTF8String() bool  { return e >= ElementTypeUTF8_1 && e <= ElementTypeUTF8_8 }
func (e ElementType) IsBytes() bool       { return e >= ElementTypeBytes1 && e <= ElementTypeBytes8 }
func (e ElementType) IsString() bool      { return e.IsUTF8String() || e.IsBytes() }
func (e ElementType) IsContainer() bool {
	return e == ElementTypeStruct || e == ElementTypeArray || e == ElementTypeList
}

// ValueSize is the encoded width of the value field for fixed-size
// types; it is 0 for strings and containers, which carry their own
// length prefix or terminator instead.
func (e ElementType) ValueSize() int {
	switch e {
	case ElementTypeInt8, ElementTypeUInt8:
		return 1
	case ElementTypeInt16, ElementTypeUInt16:
		return 2
	case ElementTypeInt32, ElementTypeUInt32, ElementTypeFloat32:
		return 4
	case ElementTypeInt64, ElementTypeUInt64, ElementTypeFloat64:
		return 8
	default:
		return 0
	}
}

// LengthFieldSize is the width of the length prefix string types carry;
// 0 for anything else.
func (e ElementType) LengthFieldSize() int {
	switch e {
	case ElementTypeUTF8_1, ElementTypeBytes1:
		return 1
	case ElementTypeUTF8_2, ElementTypeBytes2:
		return 2
	case ElementTypeUTF8_4, ElementTypeBytes4:
		return 4
	case ElementTypeUTF8_8, ElementTypeBytes8:
		return 8
	default:
		return 0
	}
}

const (
	elementTypeMask = 0x1F
	tagControlMask  = 0xE0
	tagControlShift = 5
)

// ParseControlOctet splits a control octet into its value type and tag
// form.
func ParseControlOctet(b byte) (ElementType, TagControl) {
	return ElementType(b & elementTypeMask), TagControl((b & tagControlMask) >> tagControlShift)
}

// BuildControlOctet packs a value type and tag form back into one byte.
func BuildControlOctet(elemType ElementType, tagCtrl TagControl) byte {
	return byte(elemType&elementTypeMask) | byte(tagCtrl<<tagControlShift)
}
