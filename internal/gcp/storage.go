package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrObjectNotFound is returned when a referenced object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ObjectRef formats a gs:// reference.
func ObjectRef(bucket, name string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, name)
}

// ParseObjectRef splits a gs://bucket/name reference.
func ParseObjectRef(ref string) (bucket, name string, err error) {
	rest, ok := strings.CutPrefix(ref, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// reference: %q", ref)
	}
	bucket, name, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || name == "" {
		return "", "", fmt.Errorf("malformed object reference: %q", ref)
	}
	return bucket, name, nil
}

// BlobStore reads, writes and signs objects in one Cloud Storage bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

func NewBlobStore(client *storage.Client, bucket string) *BlobStore {
	return &BlobStore{client: client, bucket: bucket}
}

// Bucket returns the bucket new objects are written to.
func (b *BlobStore) Bucket() string {
	return b.bucket
}

// Get downloads the object behind ref and returns its bytes with the stored content type.
func (b *BlobStore) Get(ctx context.Context, ref string) ([]byte, string, error) {
	bucket, name, err := ParseObjectRef(ref)
	if err != nil {
		return nil, "", err
	}
	reader, err := b.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
		}
		return nil, "", fmt.Errorf("failed to get GCS object reader for %s: %w", ref, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read GCS object %s: %w", ref, err)
	}
	return data, reader.Attrs.ContentType, nil
}

// Put writes content to name only if the object doesn't already exist and returns its gs:// reference.
func (b *BlobStore) Put(ctx context.Context, name string, content io.Reader, contentType string) (string, error) {
	ref := ObjectRef(b.bucket, name)
	writer := b.client.Bucket(b.bucket).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("SKIPPING: Object already exists.", "gcsObject", name)
			return ref, nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return ref, nil
}

// Sign returns a V4 signed GET URL for bucket/name valid for ttl. An empty bucket selects the
// store's own bucket.
func (b *BlobStore) Sign(bucket, name string, ttl time.Duration) (string, error) {
	if bucket == "" {
		bucket = b.bucket
	}
	url, err := b.client.Bucket(bucket).SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %s: %w", ObjectRef(bucket, name), err)
	}
	return url, nil
}
