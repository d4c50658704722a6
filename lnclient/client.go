// Package lnclient defines the LN node collaborator contract (spec §6):
// everything the core needs from the underlying LN node without owning it.
// Modeled on the shape of the teacher's lnwallet.BlockChainIO /
// lnrpc.LightningClient boundary: a small interface the core depends on,
// with the real node kept out of scope.
package lnclient

import (
	"context"
	"math/big"
	"time"
)

// WalletInfo is the response of getWalletInfo.
type WalletInfo struct {
	PublicKey string
	Alias     string
	Version   string
}

// Channel mirrors one entry of getChannels. Balances are arbitrary
// precision per spec §9 ("do not collapse to floating-point").
type Channel struct {
	ID              string
	LocalPubKey     string
	RemotePubKey    string
	LocalBalance    *big.Int
	RemoteBalance   *big.Int
	Capacity        *big.Int
	IsActive        bool
	IsOpening       bool
	IsClosing       bool
	IsPrivate       bool
}

// InvoiceRequest is the input of createInvoice.
type InvoiceRequest struct {
	Description string
	ExpiresAt   time.Time
	Tokens      *big.Int
}

// Invoice is the output of createInvoice: the encoded BOLT-11 request.
type Invoice struct {
	Request string
}

// DecodedInvoice is the output of decodePaymentRequest.
type DecodedInvoice struct {
	Tokens      *big.Int
	Destination string
}

// PayRequest is the input of pay.
type PayRequest struct {
	Request         string
	OutgoingChannel string
}

// PayResult is the output of pay.
type PayResult struct {
	ID          string
	IsConfirmed bool
	ConfirmedAt time.Time
}

// Client is the full LN node collaborator contract of spec §6. The core
// never constructs channel state, signs transactions, or talks to a chain
// backend directly; it only calls through this interface.
type Client interface {
	GetWalletInfo(ctx context.Context) (*WalletInfo, error)
	GetChannels(ctx context.Context) ([]*Channel, error)
	CreateInvoice(ctx context.Context, req *InvoiceRequest) (*Invoice, error)
	DecodePaymentRequest(ctx context.Context, request string) (*DecodedInvoice, error)
	Pay(ctx context.Context, req *PayRequest) (*PayResult, error)
}
