// Package receipts provides cryptographic receipts for settled x402 payments.
//
// Every payment that clears verification produces a signed receipt that the
// payer can independently re-verify later, long after the verification cache
// entry has expired.
package receipts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

// Receipt is a signed proof that a payment for a priced resource was verified.
type Receipt struct {
	ID          string    `json:"id"`
	TxSignature string    `json:"txSignature"` // Solana transaction signature of the payment
	Resource    string    `json:"resource"`    // resource template the payment unlocked
	Payer       string    `json:"payer,omitempty"`
	Recipient   string    `json:"recipient"`
	Lamports    uint64    `json:"lamports"`
	PayloadHash string    `json:"payloadHash"` // SHA-256 of canonical payload
	Signature   string    `json:"signature"`   // HMAC-SHA256 signature
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IssueRequest is the input for creating a receipt.
type IssueRequest struct {
	TxSignature string
	Resource    string
	Payer       string
	Recipient   string
	Lamports    uint64
}

// VerifyRequest is the input for verifying a receipt signature.
type VerifyRequest struct {
	ReceiptID string `json:"receiptId" binding:"required"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipt data.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	ListByPayer(ctx context.Context, payer string, limit int) ([]*Receipt, error)
	ListBySignature(ctx context.Context, txSignature string) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Lamports    uint64 `json:"lamports"`
	Payer       string `json:"payer"`
	Recipient   string `json:"recipient"`
	Resource    string `json:"resource"`
	TxSignature string `json:"txSignature"`
}
