package ringbuffer

import "testing"

func TestLookupFindsPattern(t *testing.T) {
	r := New(64)
	r.Write([]byte("garbage"))
	r.Write([]byte{0x66, 0x03, 0x06})

	if off := r.Lookup([]byte{0x66, 0x03}, 0); off != len("garbage") {
		t.Errorf("Lookup = %d, want %d", off, len("garbage"))
	}
}

func TestLookupRespectsFromOffset(t *testing.T) {
	r := New(64)
	r.Write([]byte{0x66, 0x03, 0xAA, 0x66, 0x03, 0xBB})

	if off := r.Lookup([]byte{0x66, 0x03}, 1); off != 3 {
		t.Errorf("Lookup from 1 = %d, want 3 (first match at 0 must be skipped)", off)
	}
}

func TestLookupReturnsMinusOneWhenAbsent(t *testing.T) {
	r := New(64)
	r.Write([]byte("no prefix here"))

	if off := r.Lookup([]byte{0x66, 0x03}, 0); off != -1 {
		t.Errorf("Lookup = %d, want -1", off)
	}
}

func TestLookupReturnsMinusOneOnShortBuffer(t *testing.T) {
	r := New(64)
	r.Write([]byte{0x66})

	if off := r.Lookup([]byte{0x66, 0x03}, 0); off != -1 {
		t.Errorf("Lookup = %d, want -1 (buffer shorter than pattern)", off)
	}
}

func TestLookupDelimitedFindsBalancedSpan(t *testing.T) {
	r := New(64)
	r.Write([]byte("junk{a{b}c}tail"))

	open, closePos, length, ok := r.LookupDelimited('{', '}')
	if !ok {
		t.Fatalf("expected a balanced span")
	}
	if open != 4 || closePos != 10 || length != 7 {
		t.Errorf("open=%d close=%d length=%d, want 4/10/7", open, closePos, length)
	}
}

func TestLookupDelimitedNoMatch(t *testing.T) {
	r := New(64)
	r.Write([]byte("no braces here"))

	if _, _, _, ok := r.LookupDelimited('{', '}'); ok {
		t.Errorf("expected no balanced span")
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	r := New(64)
	r.Write([]byte("hello"))

	buf := make([]byte, 3)
	if n := r.Peek(buf, 1); n != 3 || string(buf) != "ell" {
		t.Fatalf("Peek = %d %q, want 3 %q", n, buf, "ell")
	}
	if r.Len() != 5 {
		t.Errorf("Len = %d after Peek, want 5 (unchanged)", r.Len())
	}
}

func TestDiscardThenReadAfterLookup(t *testing.T) {
	r := New(64)
	r.Write([]byte("junk"))
	r.Write([]byte{0x66, 0x03, 0x02, 0xAA, 0xBB})

	off := r.Lookup([]byte{0x66, 0x03}, 0)
	if off != 4 {
		t.Fatalf("Lookup = %d, want 4", off)
	}
	r.Discard(off)

	buf := make([]byte, 5)
	n := r.Read(buf, 0, true)
	if n != 5 || buf[0] != 0x66 {
		t.Fatalf("Read after Discard = %d %v, want the frame starting at 0x66", n, buf)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0 after erasing read", r.Len())
	}
}
