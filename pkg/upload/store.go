// Package upload pushes optimized derivatives to object storage or an SFTP file server.
package upload

import "context"

// PutOptions are the per-object upload settings
type PutOptions struct {
	ContentType  string
	Upsert       bool
	CacheControl string // max-age seconds
}

// ObjectStore is the object-storage collaborator
type ObjectStore interface {
	// Bucket names the target bucket
	Bucket() string

	// Put stores body at objectPath. A missing bucket is reported as utils.ErrBucketNotFound.
	Put(ctx context.Context, objectPath string, body []byte, opts PutOptions) error

	// Get returns the stored bytes of objectPath
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// CreateBucket provisions the bucket as public; an existing bucket is not an error
	CreateBucket(ctx context.Context) error

	// PublicURL is the templated public address of objectPath
	PublicURL(objectPath string) string
}
