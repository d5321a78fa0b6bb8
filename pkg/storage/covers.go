package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxCoverBytes = 5 << 20
	coverPrefix   = "covers/"
)

var (
	ErrUnsupportedImage = errors.New("cover must be a png, jpeg, gif or webp image")
	ErrImageTooLarge    = errors.New("cover image exceeds 5 MiB")
)

var coverExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Cover is an uploaded cover image.
type Cover struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Covers stores book cover images and hands back the public URL the book
// document records.
type Covers struct {
	objects ObjectStore
}

func NewCovers(objects ObjectStore) *Covers {
	return &Covers{objects: objects}
}

// Upload sniffs the image type, stores it under a fresh key and returns its URL.
func (c *Covers) Upload(ctx context.Context, bookID string, r io.Reader, size int64) (Cover, error) {
	if size > MaxCoverBytes {
		return Cover{}, ErrImageTooLarge
	}
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Cover{}, fmt.Errorf("read cover: %w", err)
	}
	contentType := http.DetectContentType(head)
	ext, ok := coverExtensions[contentType]
	if !ok {
		return Cover{}, ErrUnsupportedImage
	}
	key := coverPrefix + bookID + "/" + uuid.NewString() + ext
	if err := c.objects.Put(ctx, key, io.LimitReader(br, MaxCoverBytes), size, contentType); err != nil {
		return Cover{}, err
	}
	u, err := c.objects.URL(ctx, key)
	if err != nil {
		_ = c.objects.Delete(ctx, key)
		return Cover{}, err
	}
	return Cover{Key: key, URL: u}, nil
}

func (c *Covers) Delete(ctx context.Context, key string) error {
	return c.objects.Delete(ctx, key)
}

// KeyFromURL recovers the object key from a cover URL produced by Upload.
// URLs that were not uploaded here (external links) report false.
func KeyFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	path := u.Path
	idx := strings.Index(path, "/"+coverPrefix)
	if idx < 0 {
		return "", false
	}
	return path[idx+1:], true
}
