package rangeio

import (
	"bytes"
	"io"
	"testing"
)

type bytesSource struct{ data []byte }

func (b bytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func mkSource(n int) bytesSource {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return bytesSource{data: data}
}

func readAll(t *testing.T, r *Reader) []byte {
	t.Helper()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return got
}

func TestSingleRangeFullBody(t *testing.T) {
	src := mkSource(100)
	r := New(src, []Range{{0, 100}}, nil)
	got := readAll(t, r)
	if !bytes.Equal(got, src.data) {
		t.Fatalf("mismatch")
	}
	if r.Len() != 100 {
		t.Fatalf("Len = %d, want 100", r.Len())
	}
}

func TestSingleByteRange(t *testing.T) {
	src := mkSource(1)
	r := New(src, []Range{{0, 1}}, nil)
	got := readAll(t, r)
	if len(got) != 1 || got[0] != src.data[0] {
		t.Fatalf("got = %v", got)
	}
}

func TestDisjointRangesOrderPreserved(t *testing.T) {
	src := mkSource(10000)
	ranges := []Range{{0, 10}, {20, 30}, {9990, 10000}}
	r := New(src, ranges, nil)
	got := readAll(t, r)
	want := append(append(append([]byte{}, src.data[0:10]...), src.data[20:30]...), src.data[9990:10000]...)
	if !bytes.Equal(got, want) {
		t.Fatalf("mismatch: got %d bytes, want %d", len(got), len(want))
	}
}

func TestChunkNeverExceedsBufferSize(t *testing.T) {
	src := mkSource(50000)
	r := New(src, []Range{{0, 50000}}, nil)
	for {
		buf := make([]byte, ChunkSize)
		n, err := r.Read(buf)
		if n > ChunkSize {
			t.Fatalf("chunk of %d bytes exceeds ChunkSize %d", n, ChunkSize)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
}

func TestMultipartBoundariesStraddleChunk(t *testing.T) {
	src := mkSource(20)
	ranges := []Range{{0, 10}, {10, 20}}
	boundaries := [][]byte{
		[]byte("HEADER-A"),
		[]byte("HEADER-B"),
		[]byte("TERM"),
	}
	r := New(src, ranges, boundaries)
	got := readAll(t, r)
	want := append([]byte{}, "HEADER-A"...)
	want = append(want, src.data[0:10]...)
	want = append(want, "HEADER-B"...)
	want = append(want, src.data[10:20]...)
	want = append(want, "TERM"...)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q\nwant %q", got, want)
	}
	if r.Len() != int64(len(want)) {
		t.Fatalf("Len = %d, want %d", r.Len(), len(want))
	}
}

func TestBoundaryNotSplitAcrossChunks(t *testing.T) {
	// range0 fills the buffer to within 6 bytes of ChunkSize; range1's
	// 10-byte header won't fit in what's left, so the reader must
	// flush the first chunk early (range0 data only, no header) and
	// start the second chunk with the intact header.
	firstLen := int64(ChunkSize - 6)
	src := mkSource(int(firstLen) + 10)
	ranges := []Range{{0, firstLen}, {firstLen, firstLen + 10}}
	header1 := bytes.Repeat([]byte("h"), 10)
	boundaries := [][]byte{nil, header1, nil}
	r := New(src, ranges, boundaries)

	buf1 := make([]byte, ChunkSize)
	n1, err := r.Read(buf1)
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if int64(n1) != firstLen {
		t.Fatalf("first chunk = %d bytes, want %d (no header should have been appended)", n1, firstLen)
	}

	buf2 := make([]byte, ChunkSize)
	n2, err := r.Read(buf2)
	if err != nil && err != io.EOF {
		t.Fatalf("second Read: %v", err)
	}
	if n2 != 20 {
		t.Fatalf("second chunk = %d bytes, want 20 (10-byte header + 10 bytes of data)", n2)
	}
	if !bytes.Equal(buf2[:10], header1) {
		t.Fatalf("second chunk does not start with the intact header")
	}
}

func TestIOErrorIsTerminal(t *testing.T) {
	src := mkSource(10)
	r := New(src, []Range{{0, 20}}, nil) // range overruns the source
	_, err := io.ReadAll(r)
	if err == nil {
		t.Fatalf("expected an error for an out-of-bounds range")
	}
}

func TestZeroByteRangeList(t *testing.T) {
	src := mkSource(10)
	r := New(src, nil, nil)
	got := readAll(t, r)
	if len(got) != 0 {
		t.Fatalf("got %d bytes, want 0", len(got))
	}
}
