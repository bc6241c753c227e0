package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ReceiptArchiver stores settlement receipts outside the database.
type ReceiptArchiver interface {
	Archive(ctx context.Context, receipt SettlementReceipt) (string, error)
	Fetch(ctx context.Context, requestID int64, settledAt time.Time) (SettlementReceipt, error)
}
