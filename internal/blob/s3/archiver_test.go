package s3blob

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

type memBlobs struct {
	mu    sync.Mutex
	objs  map[string][]byte
	types map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objs: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[path]
	return ok, nil
}

func TestReceiptPath(t *testing.T) {
	a := NewReceiptArchiver(nil, nil, "/archive/")
	at := time.Date(2026, 3, 9, 23, 0, 0, 0, time.FixedZone("KST", 9*3600))
	assert.Equal(t, "archive/2026/03/request-42.json", a.ReceiptPath(42, at))

	assert.Equal(t, "receipts/2026/03/request-1.json", NewReceiptArchiver(nil, nil, "").ReceiptPath(1, at))
}

func TestArchiveAndFetch(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewReceiptArchiver(blobs, blobs, "")

	settled := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	paid := true
	receipt := domain.SettlementReceipt{
		Request: domain.InsuranceRequest{
			ID:             7,
			Requester:      "0xR",
			CoverageAmount: 1000,
			Status:         domain.StatusExpired,
			Payout:         &paid,
			SettledAt:      &settled,
		},
		Disbursements: []domain.Disbursement{
			{Key: domain.PayoutKey(7), RequestID: 7, Kind: domain.KindPayout, To: "0xR", Amount: 1000, TxRef: "0xabc"},
		},
		SettledBy: "0xKeeper",
		SettledAt: settled,
	}

	path, err := a.Archive(ctx, receipt)
	require.NoError(t, err)
	assert.Equal(t, "receipts/2026/08/request-7.json", path)
	assert.Equal(t, "application/json", blobs.types[path])
	ok, _ := blobs.Exists(ctx, path)
	assert.True(t, ok)

	got, err := a.Fetch(ctx, 7, settled)
	require.NoError(t, err)
	assert.Equal(t, "0xKeeper", got.SettledBy)
	assert.Equal(t, int64(7), got.Request.ID)
	require.NotNil(t, got.Request.Payout)
	assert.True(t, *got.Request.Payout)
	require.Len(t, got.Disbursements, 1)
	assert.Equal(t, "0xabc", got.Disbursements[0].TxRef)

	_, err = a.Fetch(ctx, 8, settled)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
