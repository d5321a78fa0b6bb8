package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

// 1x1 transparent png
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func TestCoversUploadReturnsURLAndKey(t *testing.T) {
	objects := NewMemoryObjectStore("https://cdn.example.com/inkwell")
	covers := NewCovers(objects)

	cover, err := covers.Upload(context.Background(), "book-1", bytes.NewReader(tinyPNG), int64(len(tinyPNG)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(cover.Key, "covers/book-1/") || !strings.HasSuffix(cover.Key, ".png") {
		t.Fatalf("unexpected key %q", cover.Key)
	}
	if !objects.Has(cover.Key) {
		t.Fatalf("expected object stored")
	}
	key, ok := KeyFromURL(cover.URL)
	if !ok || key != cover.Key {
		t.Fatalf("expected key %q from url %q, got %q (ok=%v)", cover.Key, cover.URL, key, ok)
	}
	if err := covers.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if objects.Has(cover.Key) {
		t.Fatalf("expected object removed")
	}
}

func TestCoversRejectsNonImages(t *testing.T) {
	covers := NewCovers(NewMemoryObjectStore(""))
	body := []byte("%PDF-1.4 not an image")
	_, err := covers.Upload(context.Background(), "b", bytes.NewReader(body), int64(len(body)))
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
	if _, err := covers.Upload(context.Background(), "b", bytes.NewReader(tinyPNG), MaxCoverBytes+1); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}

func TestKeyFromExternalURL(t *testing.T) {
	if _, ok := KeyFromURL("https://images.example.org/art/cover.jpg"); ok {
		t.Fatalf("expected external url to be ignored")
	}
	if _, ok := KeyFromURL(""); ok {
		t.Fatalf("expected empty url to be ignored")
	}
}
