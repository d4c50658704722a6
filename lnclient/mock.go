package lnclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"
)

// MockClient is an in-memory fake of Client, grounded on the teacher's
// htlcswitch mockServer: a struct carrying the same state a real
// collaborator would, guarded by a mutex and driven entirely by test setup
// rather than a live node.
type MockClient struct {
	mu sync.Mutex

	info     *WalletInfo
	channels []*Channel

	invoiceCounter int64
	invoices       map[string]*InvoiceRequest

	// PayFunc, when set, determines the outcome of Pay. Tests wire this
	// to simulate success, an unconfirmed payment, or an error.
	PayFunc func(ctx context.Context, req *PayRequest) (*PayResult, error)

	// DecodeFunc, when set, overrides DecodePaymentRequest.
	DecodeFunc func(ctx context.Context, request string) (*DecodedInvoice, error)

	payIDCounter int64
}

// NewMockClient builds a MockClient reporting the given identity.
func NewMockClient(pubKey, alias string) *MockClient {
	return &MockClient{
		info: &WalletInfo{
			PublicKey: pubKey,
			Alias:     alias,
			Version:   "mock-0.1",
		},
		invoices: make(map[string]*InvoiceRequest),
	}
}

// SetChannels replaces the full channel view the mock reports, mirroring
// the "rebuilt whole on each refresh" semantics of spec §3.
func (m *MockClient) SetChannels(chans []*Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = chans
}

func (m *MockClient) GetWalletInfo(ctx context.Context) (*WalletInfo, error) {
	return m.info, nil
}

func (m *MockClient) GetChannels(ctx context.Context) ([]*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Channel, len(m.channels))
	copy(out, m.channels)
	return out, nil
}

func (m *MockClient) CreateInvoice(ctx context.Context, req *InvoiceRequest) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := atomic.AddInt64(&m.invoiceCounter, 1)
	request := fmt.Sprintf("lnmock1%d_%s", id, req.Tokens.String())
	m.invoices[request] = req
	return &Invoice{Request: request}, nil
}

func (m *MockClient) DecodePaymentRequest(ctx context.Context, request string) (*DecodedInvoice, error) {
	if m.DecodeFunc != nil {
		return m.DecodeFunc(ctx, request)
	}

	m.mu.Lock()
	req, ok := m.invoices[request]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown invoice %q", request)
	}

	return &DecodedInvoice{
		Tokens:      new(big.Int).Set(req.Tokens),
		Destination: m.info.PublicKey,
	}, nil
}

func (m *MockClient) Pay(ctx context.Context, req *PayRequest) (*PayResult, error) {
	if m.PayFunc != nil {
		return m.PayFunc(ctx, req)
	}

	id := atomic.AddInt64(&m.payIDCounter, 1)
	return &PayResult{
		ID:          fmt.Sprintf("pay-%d", id),
		IsConfirmed: true,
		ConfirmedAt: time.Now(),
	}, nil
}

var _ Client = (*MockClient)(nil)
