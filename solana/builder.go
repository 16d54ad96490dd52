package solana

import (
	"context"
	"errors"
	"fmt"
)

// Builder assembles unsigned SPL transfer transactions against live ledger
// state.
type Builder struct {
	rpc *Client
}

// NewBuilder wires a transaction builder to a JSON-RPC client.
func NewBuilder(rpc *Client) *Builder {
	return &Builder{rpc: rpc}
}

// Build produces an unsigned token transfer of minor units from payer to
// recipient. The payer wallet sits in the fee-payer slot; a gasless
// facilitator replaces it at settlement. Both associated token accounts are
// derived here, the blockhash is fetched fresh, and the recipient's account
// existence plus the payer's balance are pre-checked so obviously doomed
// transfers fail before any settlement attempt.
func (b *Builder) Build(ctx context.Context, payer, recipient, mint PublicKey, minorUnits uint64, decimals uint8) (*Transaction, error) {
	if minorUnits == 0 {
		return nil, fmt.Errorf("solana: transfer amount must be positive")
	}
	if payer.IsZero() || recipient.IsZero() || mint.IsZero() {
		return nil, fmt.Errorf("solana: payer, recipient and mint are all required")
	}

	sourceATA, err := AssociatedTokenAddress(payer, mint)
	if err != nil {
		return nil, err
	}
	destATA, err := AssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, err
	}

	blockhash, err := b.rpc.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	// The ledger answers a balance query for a nonexistent account with a
	// JSON-RPC error, which is the recipient-missing signal here.
	if _, err := b.rpc.TokenAccountBalance(ctx, destATA); err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: %s has no account for mint %s", ErrRecipientAccountMissing, recipient, mint)
		}
		return nil, fmt.Errorf("check recipient account: %w", err)
	}
	balance, err := b.rpc.TokenAccountBalance(ctx, sourceATA)
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: %s has no account for mint %s", ErrInsufficientBalance, payer, mint)
		}
		return nil, fmt.Errorf("check payer balance: %w", err)
	}
	if balance < minorUnits {
		return nil, fmt.Errorf("%w: have %d minor units, need %d", ErrInsufficientBalance, balance, minorUnits)
	}

	transfer := NewTransferChecked(sourceATA, mint, destATA, payer, minorUnits, decimals)
	msg, err := NewMessage(payer, blockhash, transfer)
	if err != nil {
		return nil, err
	}
	return NewUnsignedTransaction(msg), nil
}
