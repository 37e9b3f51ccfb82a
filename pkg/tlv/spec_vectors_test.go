package tlv

import (
	"bytes"
	"math"
	"testing"
)

// Encoding samples from Matter 1.5 appendix A.12, tables 125-127.

// expectation helpers shared by the vector suites.

func advance(t *testing.T, r *Reader) {
	t.Helper()
	if err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
}

func expectType(t *testing.T, r *Reader, want ElementType) {
	t.Helper()
	if r.Type() != want {
		t.Fatalf("element type = %v, want %v", r.Type(), want)
	}
}

func expectInt(t *testing.T, r *Reader, want int64) {
	t.Helper()
	v, err := r.Int()
	if err != nil {
		t.Fatalf("Int: %v", err)
	}
	if v != want {
		t.Errorf("Int = %d, want %d", v, want)
	}
}

func expectUint(t *testing.T, r *Reader, want uint64) {
	t.Helper()
	v, err := r.Uint()
	if err != nil {
		t.Fatalf("Uint: %v", err)
	}
	if v != want {
		t.Errorf("Uint = %d, want %d", v, want)
	}
}

func expectEnd(t *testing.T, r *Reader) {
	t.Helper()
	advance(t, r)
	expectType(t, r, ElementTypeEnd)
}

func expectContextTag(t *testing.T, r *Reader, tagNum uint32) {
	t.Helper()
	if !r.Tag().IsContext() || r.Tag().TagNumber() != tagNum {
		t.Fatalf("tag = %v, want context %d", r.Tag(), tagNum)
	}
}

// Table 125: primitive types, all anonymous.
func TestTable125Primitives(t *testing.T) {
	reader := func(t *testing.T, enc []byte) *Reader {
		t.Helper()
		r := NewReader(bytes.NewReader(enc))
		advance(t, r)
		return r
	}

	t.Run("booleans", func(t *testing.T) {
		r := reader(t, []byte{0x08})
		expectType(t, r, ElementTypeFalse)
		if v, err := r.Bool(); err != nil || v {
			t.Errorf("Bool = (%v, %v), want false", v, err)
		}

		r = reader(t, []byte{0x09})
		expectType(t, r, ElementTypeTrue)
		if v, err := r.Bool(); err != nil || !v {
			t.Errorf("Bool = (%v, %v), want true", v, err)
		}
	})

	t.Run("signed integers", func(t *testing.T) {
		cases := []struct {
			enc      []byte
			wantType ElementType
			want     int64
		}{
			{[]byte{0x00, 0x2a}, ElementTypeInt8, 42},
			{[]byte{0x00, 0xef}, ElementTypeInt8, -17},
			{[]byte{0x01, 0x2a, 0x00}, ElementTypeInt16, 42},
			{[]byte{0x02, 0xf0, 0x67, 0xfd, 0xff}, ElementTypeInt32, -170000},
			{[]byte{0x03, 0x00, 0x90, 0x2f, 0x50, 0x09, 0x00, 0x00, 0x00}, ElementTypeInt64, 40000000000},
		}
		for _, tc := range cases {
			r := reader(t, tc.enc)
			expectType(t, r, tc.wantType)
			expectInt(t, r, tc.want)
		}
	})

	t.Run("unsigned integer", func(t *testing.T) {
		r := reader(t, []byte{0x04, 0x2a})
		expectType(t, r, ElementTypeUInt8)
		expectUint(t, r, 42)
	})

	t.Run("strings", func(t *testing.T) {
		r := reader(t, []byte{0x0c, 0x06, 0x48, 0x65, 0x6c, 0x6c, 0x6f, 0x21})
		expectType(t, r, ElementTypeUTF8_1)
		if v, err := r.String(); err != nil || v != "Hello!" {
			t.Errorf("String = (%q, %v), want Hello!", v, err)
		}

		r = reader(t, []byte{0x0c, 0x07, 0x54, 0x73, 0x63, 0x68, 0xc3, 0xbc, 0x73})
		if v, err := r.String(); err != nil || v != "Tschüs" {
			t.Errorf("String = (%q, %v), want Tschüs", v, err)
		}

		r = reader(t, []byte{0x10, 0x05, 0x00, 0x01, 0x02, 0x03, 0x04})
		expectType(t, r, ElementTypeBytes1)
		want := []byte{0x00, 0x01, 0x02, 0x03, 0x04}
		if v, err := r.Bytes(); err != nil || !bytes.Equal(v, want) {
			t.Errorf("Bytes = (%x, %v), want %x", v, err, want)
		}
	})

	t.Run("null", func(t *testing.T) {
		r := reader(t, []byte{0x14})
		expectType(t, r, ElementTypeNull)
		if err := r.Null(); err != nil {
			t.Errorf("Null: %v", err)
		}
	})

	t.Run("float32", func(t *testing.T) {
		cases := []struct {
			enc  []byte
			want float32
		}{
			{[]byte{0x0a, 0x00, 0x00, 0x00, 0x00}, 0.0},
			{[]byte{0x0a, 0xab, 0xaa, 0xaa, 0x3e}, float32(1.0 / 3.0)},
			{[]byte{0x0a, 0x33, 0x33, 0x8f, 0x41}, 17.9},
			{[]byte{0x0a, 0x00, 0x00, 0x80, 0x7f}, float32(math.Inf(1))},
			{[]byte{0x0a, 0x00, 0x00, 0x80, 0xff}, float32(math.Inf(-1))},
		}
		for _, tc := range cases {
			r := reader(t, tc.enc)
			expectType(t, r, ElementTypeFloat32)
			if v, err := r.Float32(); err != nil || v != tc.want {
				t.Errorf("Float32(%x) = (%v, %v), want %v", tc.enc, v, err, tc.want)
			}
		}
	})

	t.Run("float64", func(t *testing.T) {
		cases := []struct {
			enc  []byte
			want float64
		}{
			{[]byte{0x0b, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, 0.0},
			{[]byte{0x0b, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0xd5, 0x3f}, 1.0 / 3.0},
			{[]byte{0x0b, 0x66, 0x66, 0x66, 0x66, 0x66, 0xe6, 0x31, 0x40}, 17.9},
			{[]byte{0x0b, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0x7f}, math.Inf(1)},
			{[]byte{0x0b, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0xff}, math.Inf(-1)},
		}
		for _, tc := range cases {
			r := reader(t, tc.enc)
			expectType(t, r, ElementTypeFloat64)
			if v, err := r.Float64(); err != nil || v != tc.want {
				t.Errorf("Float64(%x) = (%v, %v), want %v", tc.enc, v, err, tc.want)
			}
		}
	})
}

// Table 126: containers, all anonymous.
func TestTable126Containers(t *testing.T) {
	open := func(t *testing.T, enc []byte, want ElementType) *Reader {
		t.Helper()
		r := NewReader(bytes.NewReader(enc))
		advance(t, r)
		expectType(t, r, want)
		if err := r.EnterContainer(); err != nil {
			t.Fatalf("EnterContainer: %v", err)
		}
		return r
	}

	t.Run("empty containers", func(t *testing.T) {
		for _, tc := range []struct {
			enc  []byte
			want ElementType
		}{
			{[]byte{0x15, 0x18}, ElementTypeStruct},
			{[]byte{0x16, 0x18}, ElementTypeArray},
			{[]byte{0x17, 0x18}, ElementTypeList},
		} {
			r := open(t, tc.enc, tc.want)
			expectEnd(t, r)
		}
	})

	// {0 = 42, 1 = -17}
	t.Run("struct with context tags", func(t *testing.T) {
		r := open(t, []byte{0x15, 0x20, 0x00, 0x2a, 0x20, 0x01, 0xef, 0x18}, ElementTypeStruct)

		advance(t, r)
		expectContextTag(t, r, 0)
		expectInt(t, r, 42)

		advance(t, r)
		expectContextTag(t, r, 1)
		expectInt(t, r, -17)

		expectEnd(t, r)
	})

	// [0, 1, 2, 3, 4]
	t.Run("array of ints", func(t *testing.T) {
		r := open(t, []byte{0x16, 0x00, 0x00, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x18}, ElementTypeArray)
		for i := int64(0); i <= 4; i++ {
			advance(t, r)
			if !r.Tag().IsAnonymous() {
				t.Errorf("array element %d not anonymous", i)
			}
			expectInt(t, r, i)
		}
		expectEnd(t, r)
	})

	// [[1, 0 = 42, 2, 3, 0 = -17]]
	t.Run("list with mixed tags", func(t *testing.T) {
		r := open(t, []byte{0x17, 0x00, 0x01, 0x20, 0x00, 0x2a, 0x00, 0x02, 0x00, 0x03, 0x20, 0x00, 0xef, 0x18}, ElementTypeList)

		advance(t, r)
		if !r.Tag().IsAnonymous() {
			t.Error("first list element not anonymous")
		}
		expectInt(t, r, 1)

		advance(t, r)
		expectContextTag(t, r, 0)
		expectInt(t, r, 42)

		advance(t, r)
		expectInt(t, r, 2)
		advance(t, r)
		expectInt(t, r, 3)

		advance(t, r)
		expectContextTag(t, r, 0)
		expectInt(t, r, -17)
	})

	// [42, -170000, {}, 17.9, "Hello!"]
	t.Run("array with mixed element types", func(t *testing.T) {
		r := open(t, []byte{
			0x16, 0x00, 0x2a, 0x02, 0xf0, 0x67, 0xfd, 0xff, 0x15, 0x18,
			0x0a, 0x33, 0x33, 0x8f, 0x41, 0x0c, 0x06, 0x48, 0x65, 0x6c, 0x6c, 0x6f, 0x21, 0x18,
		}, ElementTypeArray)

		advance(t, r)
		expectInt(t, r, 42)
		advance(t, r)
		expectInt(t, r, -170000)

		advance(t, r)
		expectType(t, r, ElementTypeStruct)
		if err := r.Skip(); err != nil {
			t.Fatalf("Skip: %v", err)
		}

		advance(t, r)
		if v, err := r.Float32(); err != nil || v != float32(17.9) {
			t.Errorf("Float32 = (%v, %v), want 17.9", v, err)
		}

		advance(t, r)
		if v, err := r.String(); err != nil || v != "Hello!" {
			t.Errorf("String = (%q, %v), want Hello!", v, err)
		}
	})
}

// Table 127: tag forms, each wrapping 42U.
func TestTable127TagForms(t *testing.T) {
	read := func(t *testing.T, enc []byte) *Reader {
		t.Helper()
		r := NewReader(bytes.NewReader(enc))
		advance(t, r)
		return r
	}

	t.Run("anonymous", func(t *testing.T) {
		r := read(t, []byte{0x04, 0x2a})
		if !r.Tag().IsAnonymous() {
			t.Errorf("control = %v, want anonymous", r.Tag().Control())
		}
		expectUint(t, r, 42)
	})

	t.Run("context 1", func(t *testing.T) {
		r := read(t, []byte{0x24, 0x01, 0x2a})
		expectContextTag(t, r, 1)
		expectUint(t, r, 42)
	})

	t.Run("common profile 2-octet", func(t *testing.T) {
		r := read(t, []byte{0x44, 0x01, 0x00, 0x2a})
		if r.Tag().Control() != TagControlCommonProfile2 || r.Tag().TagNumber() != 1 {
			t.Errorf("tag = %v/%d", r.Tag().Control(), r.Tag().TagNumber())
		}
		expectUint(t, r, 42)
	})

	t.Run("common profile 4-octet", func(t *testing.T) {
		r := read(t, []byte{0x64, 0xa0, 0x86, 0x01, 0x00, 0x2a})
		if r.Tag().Control() != TagControlCommonProfile4 || r.Tag().TagNumber() != 100000 {
			t.Errorf("tag = %v/%d", r.Tag().Control(), r.Tag().TagNumber())
		}
		expectUint(t, r, 42)
	})

	t.Run("fully qualified 6-octet", func(t *testing.T) {
		r := read(t, []byte{0xc4, 0xf1, 0xff, 0xed, 0xde, 0x01, 0x00, 0x2a})
		tag := r.Tag()
		if tag.Control() != TagControlFullyQualified6 ||
			tag.VendorID() != 0xFFF1 || tag.ProfileNumber() != 0xDEED || tag.TagNumber() != 1 {
			t.Errorf("tag = %v vid=%04X profile=%04X num=%d",
				tag.Control(), tag.VendorID(), tag.ProfileNumber(), tag.TagNumber())
		}
		expectUint(t, r, 42)
	})

	t.Run("fully qualified 8-octet", func(t *testing.T) {
		r := read(t, []byte{0xe4, 0xf1, 0xff, 0xed, 0xde, 0xed, 0xfe, 0x55, 0xaa, 0x2a})
		tag := r.Tag()
		if tag.Control() != TagControlFullyQualified8 ||
			tag.VendorID() != 0xFFF1 || tag.ProfileNumber() != 0xDEED || tag.TagNumber() != 0xAA55FEED {
			t.Errorf("tag = %v vid=%04X profile=%04X num=%08X",
				tag.Control(), tag.VendorID(), tag.ProfileNumber(), tag.TagNumber())
		}
		expectUint(t, r, 42)
	})

	// 65521::57069:1 = {65521::57069:43605 = 42U}
	t.Run("struct with fully qualified tags", func(t *testing.T) {
		r := read(t, []byte{0xd5, 0xf1, 0xff, 0xed, 0xde, 0x01, 0x00, 0xc4, 0xf1, 0xff, 0xed, 0xde, 0x55, 0xaa, 0x2a, 0x18})
		expectType(t, r, ElementTypeStruct)
		if r.Tag().VendorID() != 0xFFF1 || r.Tag().ProfileNumber() != 0xDEED || r.Tag().TagNumber() != 1 {
			t.Errorf("outer tag = %04X/%04X/%d", r.Tag().VendorID(), r.Tag().ProfileNumber(), r.Tag().TagNumber())
		}
		if err := r.EnterContainer(); err != nil {
			t.Fatalf("EnterContainer: %v", err)
		}
		advance(t, r)
		if r.Tag().VendorID() != 0xFFF1 || r.Tag().ProfileNumber() != 0xDEED || r.Tag().TagNumber() != 0xAA55 {
			t.Errorf("inner tag = %04X/%04X/%d", r.Tag().VendorID(), r.Tag().ProfileNumber(), r.Tag().TagNumber())
		}
		expectUint(t, r, 42)
	})
}
