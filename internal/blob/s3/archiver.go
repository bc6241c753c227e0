package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

const receiptVersion = 1

// receiptDoc is the stored JSON layout of a settlement receipt.
type receiptDoc struct {
	Version       int                     `json:"version"`
	RequestID     int64                   `json:"request_id"`
	SettledBy     string                  `json:"settled_by"`
	SettledAt     time.Time               `json:"settled_at"`
	Request       domain.InsuranceRequest `json:"request"`
	Disbursements []domain.Disbursement   `json:"disbursements"`
}

// ReceiptArchiver implements domain.ReceiptArchiver over any blob store.
// Receipts are laid out as <prefix>/<yyyy>/<mm>/request-<id>.json by
// settlement month.
type ReceiptArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewReceiptArchiver creates a ReceiptArchiver. An empty prefix uses
// "receipts".
func NewReceiptArchiver(w domain.BlobWriter, r domain.BlobReader, prefix string) *ReceiptArchiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "receipts"
	}
	return &ReceiptArchiver{writer: w, reader: r, prefix: prefix}
}

// ReceiptPath returns where the receipt for id settled at t is stored.
func (a *ReceiptArchiver) ReceiptPath(id int64, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/request-%d.json", a.prefix, t.Year(), int(t.Month()), id)
}

// Archive uploads receipt and returns its path. Re-archiving overwrites.
func (a *ReceiptArchiver) Archive(ctx context.Context, receipt domain.SettlementReceipt) (string, error) {
	doc := receiptDoc{
		Version:       receiptVersion,
		RequestID:     receipt.Request.ID,
		SettledBy:     receipt.SettledBy,
		SettledAt:     receipt.SettledAt.UTC(),
		Request:       receipt.Request,
		Disbursements: receipt.Disbursements,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal receipt %d: %w", doc.RequestID, err)
	}
	path := a.ReceiptPath(doc.RequestID, doc.SettledAt)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return path, nil
}

// Fetch loads the receipt archived for id.
func (a *ReceiptArchiver) Fetch(ctx context.Context, id int64, settledAt time.Time) (domain.SettlementReceipt, error) {
	body, err := a.reader.Get(ctx, a.ReceiptPath(id, settledAt))
	if err != nil {
		return domain.SettlementReceipt{}, err
	}
	defer body.Close()

	var doc receiptDoc
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return domain.SettlementReceipt{}, fmt.Errorf("s3blob: decode receipt %d: %w", id, err)
	}
	if doc.Version != receiptVersion {
		return domain.SettlementReceipt{}, fmt.Errorf("s3blob: receipt %d: unsupported version %d", id, doc.Version)
	}
	return domain.SettlementReceipt{
		Request:       doc.Request,
		Disbursements: doc.Disbursements,
		SettledBy:     doc.SettledBy,
		SettledAt:     doc.SettledAt,
	}, nil
}

var _ domain.ReceiptArchiver = (*ReceiptArchiver)(nil)
