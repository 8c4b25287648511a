package ring

import (
	"bytes"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func ivecBytes(v unix.Iovec) []byte {
	n := int(v.Len)
	if n == 0 || v.Base == nil {
		return nil
	}
	return unsafe.Slice(v.Base, n)
}

func TestAvailableForWriteFull(t *testing.T) {
	b := New()
	if got, want := b.AvailableForWrite(), initialCapacity-1; got != want {
		t.Fatalf("AvailableForWrite() = %d, want %d", got, want)
	}
}

func TestWriteBytesRoundTrip(t *testing.T) {
	b := New()
	want := []byte("hello world")
	b.WriteBytes(want)
	if b.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", b.Len(), len(want))
	}

	vecs := b.SetupWriteVectors()
	var got []byte
	for _, v := range vecs {
		got = append(got, ivecBytes(v)...)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}

func TestGrowPreservesContentAcrossWrap(t *testing.T) {
	b := New()
	// Force the write cursor near the end, then wrap, so Grow has to
	// linearize across the wrap boundary.
	b.write = initialCapacity - 4
	b.read = initialCapacity - 4
	b.WriteBytes([]byte("abcdefgh"))
	if b.write >= b.read {
		t.Fatalf("expected wrap, write=%d read=%d", b.write, b.read)
	}

	before := b.Len()
	b.Grow()
	if b.Cap() != initialCapacity*growthFactor {
		t.Fatalf("Cap() = %d, want %d", b.Cap(), initialCapacity*growthFactor)
	}
	if b.read != 0 {
		t.Fatalf("read cursor after grow = %d, want 0", b.read)
	}
	if b.Len() != before {
		t.Fatalf("Len() after grow = %d, want %d", b.Len(), before)
	}

	vecs := b.SetupWriteVectors()
	var got []byte
	for _, v := range vecs {
		got = append(got, ivecBytes(v)...)
	}
	if !bytes.Equal(got, []byte("abcdefgh")) {
		t.Fatalf("content after grow = %q, want %q", got, "abcdefgh")
	}
}

func TestExtractToTerminatorZeroCopyFastPath(t *testing.T) {
	b := New()
	b.WriteBytes([]byte("hello\nworld\n"))

	ex, ok := b.ExtractToTerminator('\n')
	if !ok {
		t.Fatal("expected terminator to be found")
	}
	if ex.Owned {
		t.Fatal("expected zero-copy fast path, got owned buffer")
	}
	if string(ex.Data) != "hello\x00" {
		t.Fatalf("Data = %q, want %q", ex.Data, "hello\x00")
	}

	ex2, ok := b.ExtractToTerminator('\n')
	if !ok {
		t.Fatal("expected second terminator to be found")
	}
	if string(ex2.Data) != "world\x00" {
		t.Fatalf("Data = %q, want %q", ex2.Data, "world\x00")
	}

	if _, ok := b.ExtractToTerminator('\n'); ok {
		t.Fatal("expected no terminator left")
	}
	if b.read != 0 || b.write != 0 {
		t.Fatalf("cursors did not reset after drain: read=%d write=%d", b.read, b.write)
	}
}

func TestExtractToTerminatorWrappedOwnedCopy(t *testing.T) {
	b := New()
	// write starts 2 bytes from the end, so "ab\ncd" splits as tail "ab"
	// then wraps to head "\ncd" — the terminator lands after the wrap,
	// in the head region, forcing the owned-copy branch.
	b.write = initialCapacity - 2
	b.read = initialCapacity - 2
	b.WriteBytes([]byte("ab\ncd"))
	if b.write >= b.read {
		t.Fatalf("expected wrap, write=%d read=%d", b.write, b.read)
	}

	ex, ok := b.ExtractToTerminator('\n')
	if !ok {
		t.Fatal("expected terminator to be found across the wrap")
	}
	if !ex.Owned {
		t.Fatal("expected an owned linear copy when the terminator is past the wrap")
	}
	if string(ex.Data) != "ab\x00" {
		t.Fatalf("Data = %q, want %q", ex.Data, "ab\x00")
	}
}

func TestAdvanceReadResetsOnCatchUp(t *testing.T) {
	b := New()
	b.WriteBytes([]byte("xyz"))
	b.AdvanceRead(3)
	if b.read != 0 || b.write != 0 {
		t.Fatalf("expected cursors reset to 0,0; got read=%d write=%d", b.read, b.write)
	}
}
