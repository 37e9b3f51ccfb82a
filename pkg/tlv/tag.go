package tlv

import (
	"encoding/binary"
	"io"
)

// TagControl is the tag form packed into the high 3 bits of a TLV
// control octet (Spec A.7.2) — it tells a reader how many tag bytes
// follow and how to interpret them.
type TagControl int

const (
	TagControlAnonymous        TagControl = 0
	TagControlContext          TagControl = 1
	TagControlCommonProfile2   TagControl = 2
	TagControlCommonProfile4   TagControl = 3
	TagControlImplicitProfile2 TagControl = 4
	TagControlImplicitProfile4 TagControl = 5
	TagControlFullyQualified6  TagControl = 6
	TagControlFullyQualified8  TagControl = 7
)

var tagControlNames = [...]string{
	"Anonymous", "Context", "CommonProfile2", "CommonProfile4",
	"ImplicitProfile2", "ImplicitProfile4", "FullyQualified6", "FullyQualified8",
}

func (tc TagControl) String() string {
	if tc >= 0 && int(tc) < len(tagControlNames) {
		return tagControlNames[tc]
	}
	return "Unknown"
}

// Size is the number of tag bytes this control form carries on the
// wire, not counting the control octet itself.
func (tc TagControl) Size() int {
	switch tc {
	case TagControlContext:
		return 1
	case TagControlCommonProfile2, TagControlImplicitProfile2:
		return 2
	case TagControlCommonProfile4, TagControlImplicitProfile4:
		return 4
	case TagControlFullyQualified6:
		return 6
	case TagControlFullyQualified8:
		return 8
	default:
		return 0
	}
}

// Tag identifies a TLV element: unlabeled (anonymous), positional
// within a structure (context), or namespaced to a profile — optionally
// scoped to a vendor for fully-qualified tags (Spec A.2).
type Tag struct {
	control       TagControl
	vendorID      uint16
	profileNumber uint16
	tagNumber     uint32
}

func Anonymous() Tag {
	return Tag{control: TagControlAnonymous}
}

func ContextTag(tagNum uint8) Tag {
	return Tag{control: TagControlContext, tagNumber: uint32(tagNum)}
}

func CommonProfileTag(tagNum uint32) Tag {
	ctrl := TagControlCommonProfile2
	if tagNum >= 65536 {
		ctrl = TagControlCommonProfile4
	}
	return Tag{control: ctrl, tagNumber: tagNum}
}

func ImplicitProfileTag(tagNum uint32) Tag {
	ctrl := TagControlImplicitProfile2
	if tagNum >= 65536 {
		ctrl = TagControlImplicitProfile4
	}
	return Tag{control: ctrl, tagNumber: tagNum}
}

func FullyQualifiedTag(vendorID, profileNum uint16, tagNum uint32) Tag {
	ctrl := TagControlFullyQualified6
	if tagNum >= 65536 {
		ctrl = TagControlFullyQualified8
	}
	return Tag{control: ctrl, vendorID: vendorID, profileNumber: profileNum, tagNumber: tagNum}
}

func (t Tag) Control() TagControl         { return t.control }
func (t Tag) IsAnonymous() bool           { return t.control == TagControlAnonymous }
func (t Tag) IsContext() bool             { return t.control == TagControlContext }
func (t Tag) IsProfileSpecific() bool     { return t.control >= TagControlCommonProfile2 }
func (t Tag) VendorID() uint16            { return t.vendorID }
func (t Tag) ProfileNumber() uint16       { return t.profileNumber }
func (t Tag) TagNumber() uint32           { return t.tagNumber }
func (t Tag) Size() int                   { return t.control.Size() }

// WriteTo serializes the tag in little-endian form (Spec A.8); an
// anonymous tag writes nothing.
func (t Tag) WriteTo(w io.Writer) (int64, error) {
	var buf [8]byte

	switch t.control {
	case TagControlAnonymous:
		return 0, nil
	case TagControlContext:
		buf[0] = byte(t.tagNumber)
		n, err := w.Write(buf[:1])
		return int64(n), err
	case TagControlCommonProfile2, TagControlImplicitProfile2:
		binary.LittleEndian.PutUint16(buf[:2], uint16(t.tagNumber))
		n, err := w.Write(buf[:2])
		return int64(n), err
	case TagControlCommonProfile4, TagControlImplicitProfile4:
		binary.LittleEndian.PutUint32(buf[:4], t.tagNumber)
		n, err := w.Write(buf[:4])
		return int64(n), err
	case TagControlFullyQualified6:
		binary.LittleEndian.PutUint16(buf[0:2], t.vendorID)
		binary.LittleEndian.PutUint16(buf[2:4], t.profileNumber)
		binary.LittleEndian.PutUint16(buf[4:6], uint16(t.tagNumber))
		n, err := w.Write(buf[:6])
		return int64(n), err
	case TagControlFullyQualified8:
		binary.LittleEndian.PutUint16(buf[0:2], t.vendorID)
		binary.LittleEndian.PutUint16(buf[2:4], t.profileNumber)
		binary.LittleEndian.PutUint32(buf[4:8], t.tagNumber)
		n, err := w.Write(buf[:8])
		return int64(n), err
	}
	return 0, nil
}

// ReadTag reads the tag bytes matching ctrl (as decoded from the
// preceding control octet) from r.
func ReadTag(r io.Reader, ctrl TagControl) (Tag, error) {
	tag := Tag{control: ctrl}
	var buf [8]byte

	switch ctrl {
	case TagControlAnonymous:
		return tag, nil
	case TagControlContext:
		if _, err := io.ReadFull(r, buf[:1]); err != nil {
			return tag, err
		}
		tag.tagNumber = uint32(buf[0])
	case TagControlCommonProfile2, TagControlImplicitProfile2:
		if _, err := io.ReadFull(r, buf[:2]); err != nil {
			return tag, err
		}
		tag.tagNumber = uint32(binary.LittleEndian.Uint16(buf[:2]))
	case TagControlCommonProfile4, TagControlImplicitProfile4:
		if _, err := io.ReadFull(r, buf[:4]); err != nil {
			return tag, err
		}
		tag.tagNumber = binary.LittleEndian.Uint32(buf[:4])
	case TagControlFullyQualified6:
		if _, err := io.ReadFull(r, buf[:6]); err != nil {
			return tag, err
		}
		tag.vendorID = binary.LittleEndian.Uint16(buf[0:2])
		tag.profileNumber = binary.LittleEndian.Uint16(buf[2:4])
		tag.tagNumber = uint32(binary.LittleEndian.Uint16(buf[4:6]))
	case TagControlFullyQualified8:
		if _, err := io.ReadFull(r, buf[:8]); err != nil {
			return tag, err
		}
		tag.vendorID = binary.LittleEndian.Uint16(buf[0:2])
		tag.profileNumber = binary.LittleEndian.Uint16(buf[2:4])
		tag.tagNumber = binary.LittleEndian.Uint32(buf[4:8])
	}

	return tag, nil
}
