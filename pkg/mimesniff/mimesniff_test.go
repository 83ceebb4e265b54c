package mimesniff

import "testing"

func TestMIMETypePNG(t *testing.T) {
	hdr := []byte{137, 'P', 'N', 'G', '\r', '\n', 26, 10, 0, 0}
	if got := MIMEType(hdr); got != "image/png" {
		t.Fatalf("got %q, want image/png", got)
	}
}

func TestMIMETypeNoMatch(t *testing.T) {
	if got := MIMEType([]byte("not a known format")); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestGuessFallsBackToExtension(t *testing.T) {
	got := Guess([]byte("plain text content"), "notes.txt")
	if got != "text/plain; charset=utf-8" && got != "text/plain" {
		t.Fatalf("got %q", got)
	}
}

func TestGuessDefaultsToOctetStream(t *testing.T) {
	if got := Guess(nil, ""); got != "application/octet-stream" {
		t.Fatalf("got %q, want application/octet-stream", got)
	}
}

func TestIsImage(t *testing.T) {
	if !IsImage("image/jpeg") || IsImage("application/pdf") {
		t.Fatalf("IsImage classification wrong")
	}
}
