package download

import (
	"mime/multipart"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "download-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()
	return f.Name()
}

func testResource(t *testing.T, content string) Resource {
	path := writeTempFile(t, content)
	return Resource{
		Path: path, Size: int64(len(content)), Hash: "deadbeef",
		MIME: "text/plain", DisplayName: "file.txt", ModTime: time.Unix(1700000000, 0),
	}
}

func TestServeFullResponse(t *testing.T) {
	res := testResource(t, "hello world")
	rec := httptest.NewRecorder()
	if err := Serve(rec, res, Options{}, false); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hello world" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected Cache-Control on full response")
	}
}

func TestServeSingleRange(t *testing.T) {
	res := testResource(t, "0123456789")
	rec := httptest.NewRecorder()
	if err := Serve(rec, res, Options{RangeHeader: "bytes=2-5"}, false); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != 206 {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "2345" {
		t.Fatalf("body = %q, want 2345", rec.Body.String())
	}
	if rec.Header().Get("Content-Range") != "bytes 2-5/10" {
		t.Fatalf("Content-Range = %q", rec.Header().Get("Content-Range"))
	}
}

func TestServeSuffixRange(t *testing.T) {
	res := testResource(t, "0123456789")
	rec := httptest.NewRecorder()
	if err := Serve(rec, res, Options{RangeHeader: "bytes=-3"}, false); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Body.String() != "789" {
		t.Fatalf("body = %q, want 789", rec.Body.String())
	}
}

func TestServeMultiRange(t *testing.T) {
	res := testResource(t, "0123456789")
	rec := httptest.NewRecorder()
	if err := Serve(rec, res, Options{RangeHeader: "bytes=0-1,5-6"}, false); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != 206 {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	ct := rec.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/byteranges; boundary=") {
		t.Fatalf("Content-Type = %q", ct)
	}
	boundary := strings.TrimPrefix(ct, "multipart/byteranges; boundary=")
	mr := multipart.NewReader(rec.Body, boundary)
	var parts []string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		buf := make([]byte, 2)
		n, _ := part.Read(buf)
		parts = append(parts, string(buf[:n]))
	}
	if len(parts) != 2 || parts[0] != "01" || parts[1] != "56" {
		t.Fatalf("parts = %v, want [01 56]", parts)
	}
}

func TestServeRangeNotSatisfiable(t *testing.T) {
	res := testResource(t, "0123456789")
	rec := httptest.NewRecorder()
	err := Serve(rec, res, Options{RangeHeader: "bytes=10-20"}, false)
	if err == nil {
		t.Fatalf("expected a range-not-satisfiable error")
	}
}

func TestServeMalformedRangeFallsBackToFull(t *testing.T) {
	res := testResource(t, "0123456789")
	rec := httptest.NewRecorder()
	if err := Serve(rec, res, Options{RangeHeader: "bytes=not-a-range"}, false); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200 (fallback)", rec.Code)
	}
	if rec.Body.String() != "0123456789" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestServeRawAddsContentDisposition(t *testing.T) {
	res := testResource(t, "data")
	rec := httptest.NewRecorder()
	if err := Serve(rec, res, Options{Raw: true}, false); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Header().Get("Content-Disposition") == "" {
		t.Fatalf("expected Content-Disposition for raw=1")
	}
}

func TestServeHeadOmitsBody(t *testing.T) {
	res := testResource(t, "hello world")
	rec := httptest.NewRecorder()
	if err := Serve(rec, res, Options{}, true); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body for HEAD")
	}
	if rec.Header().Get("Content-Length") != "11" {
		t.Fatalf("Content-Length = %q, want 11", rec.Header().Get("Content-Length"))
	}
}
