package tlv

import (
	"bytes"
	"testing"
)

// RawBytes captures a whole element so PutRaw can re-emit it under a new
// tag without re-encoding the body.
func TestRawCopyStructure(t *testing.T) {
	original := encodeOne(t, func(w *Writer) error {
		w.StartStructure(Anonymous())
		w.PutUint(ContextTag(0), 60)
		w.PutUint(ContextTag(1), 0)
		return w.EndContainer()
	})

	r := readOne(t, original)
	raw, err := r.RawBytes()
	if err != nil {
		t.Fatalf("RawBytes: %v", err)
	}

	recoded := encodeOne(t, func(w *Writer) error {
		return w.PutRaw(ContextTag(1), raw)
	})

	// The copy carries the new tag but the same body.
	r2 := readOne(t, recoded)
	expectType(t, r2, ElementTypeStruct)
	expectContextTag(t, r2, 1)
	if err := r2.EnterContainer(); err != nil {
		t.Fatalf("EnterContainer: %v", err)
	}

	advance(t, r2)
	expectContextTag(t, r2, 0)
	expectUint(t, r2, 60)

	advance(t, r2)
	expectContextTag(t, r2, 1)
	expectUint(t, r2, 0)

	if err := r2.ExitContainer(); err != nil {
		t.Fatalf("ExitContainer: %v", err)
	}
}

func TestRawCopyNestedStructure(t *testing.T) {
	// {0: {0: 1, 1: 2}, 1: 3}
	original := encodeOne(t, func(w *Writer) error {
		w.StartStructure(Anonymous())
		w.StartStructure(ContextTag(0))
		w.PutUint(ContextTag(0), 1)
		w.PutUint(ContextTag(1), 2)
		w.EndContainer()
		w.PutUint(ContextTag(1), 3)
		return w.EndContainer()
	})

	r := readOne(t, original)
	raw, err := r.RawBytes()
	if err != nil {
		t.Fatalf("RawBytes: %v", err)
	}

	recoded := encodeOne(t, func(w *Writer) error {
		return w.PutRaw(ContextTag(2), raw)
	})

	r2 := readOne(t, recoded)
	if err := r2.EnterContainer(); err != nil {
		t.Fatalf("EnterContainer: %v", err)
	}
	advance(t, r2)
	expectType(t, r2, ElementTypeStruct)
	expectContextTag(t, r2, 0)
	if err := r2.Skip(); err != nil {
		t.Fatalf("Skip nested: %v", err)
	}
	advance(t, r2)
	expectContextTag(t, r2, 1)
	expectUint(t, r2, 3)
	if !bytes.Contains(recoded, raw[1:]) {
		t.Error("raw body not carried verbatim")
	}
}
