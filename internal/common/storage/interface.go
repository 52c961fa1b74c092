package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by StatObject for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the object store surface the coordinator consumes:
// presigned URLs handed to runners and clients, plus existence checks.
// Signing internals stay inside the implementation.
type ObjectStorage interface {
	// PresignPut returns a URL accepting one HTTP PUT of objectKey.
	PresignPut(ctx context.Context, objectKey string, ttl time.Duration) (string, error)

	// PresignGet returns a URL serving objectKey via HTTP GET.
	PresignGet(ctx context.Context, objectKey string, ttl time.Duration) (string, error)

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, objectKey string) (ObjectStat, error)
}

// ObjectStat contains object metadata used for validation.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
