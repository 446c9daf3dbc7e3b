package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solsentry/solsentry/internal/idgen"
)

// Service implements receipt business logic.
type Service struct {
	store  Store
	signer *Signer
}

// NewService creates a new receipt service.
// If signer is nil, IssueReceipt is a no-op (signing disabled).
func NewService(store Store, signer *Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
	}
}

// IssueReceipt signs and persists a receipt. Nil-safe: returns nil if service or signer is nil.
func (s *Service) IssueReceipt(ctx context.Context, req IssueRequest) (*Receipt, error) {
	if s == nil || s.signer == nil {
		return nil, nil
	}

	payload := receiptPayload{
		Lamports:    req.Lamports,
		Payer:       req.Payer,
		Recipient:   req.Recipient,
		Resource:    req.Resource,
		TxSignature: req.TxSignature,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)

	sig, issuedAt, expiresAt, err := s.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to sign: %w", err)
	}

	receipt := &Receipt{
		ID:          idgen.WithPrefix("rcpt_"),
		TxSignature: req.TxSignature,
		Resource:    req.Resource,
		Payer:       req.Payer,
		Recipient:   req.Recipient,
		Lamports:    req.Lamports,
		PayloadHash: fmt.Sprintf("%x", hash),
		Signature:   sig,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}

	if err := s.store.Create(ctx, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// ListByPayer returns receipts for payments made by the given address.
func (s *Service) ListByPayer(ctx context.Context, payer string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByPayer(ctx, payer, limit)
}

// ListBySignature returns receipts issued for a given transaction signature.
// A signature can back payments for more than one priced resource.
func (s *Service) ListBySignature(ctx context.Context, txSignature string) ([]*Receipt, error) {
	return s.store.ListBySignature(ctx, txSignature)
}

// Verify checks whether a receipt's signature is valid.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	if s == nil || s.signer == nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrSigningDisabled.Error(),
		}, nil
	}

	receipt, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrReceiptNotFound.Error(),
		}, nil
	}

	payload := receiptPayload{
		Lamports:    receipt.Lamports,
		Payer:       receipt.Payer,
		Recipient:   receipt.Recipient,
		Resource:    receipt.Resource,
		TxSignature: receipt.TxSignature,
	}

	valid := s.signer.Verify(payload, receipt.Signature)

	resp := &VerifyResponse{
		Valid:     valid,
		ReceiptID: receiptID,
	}

	if valid && time.Now().After(receipt.ExpiresAt) {
		resp.Expired = true
	}

	if !valid {
		resp.Error = "signature verification failed"
	}

	return resp, nil
}
