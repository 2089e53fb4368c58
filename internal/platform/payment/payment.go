// Package payment moves incentive funds to a user's wallet on Solana.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrNotConfigured  = errors.New("payouts are not configured")
)

// Transferer sends amount (in SOL) to wallet and returns the transfer id.
// A transfer is attempted at most once; callers do not retry.
type Transferer interface {
	Transfer(ctx context.Context, wallet string, amount decimal.Decimal) (string, error)
}

type unconfigured struct{}

func (unconfigured) Transfer(context.Context, string, decimal.Decimal) (string, error) {
	return "", ErrNotConfigured
}

// Unconfigured fails every transfer. Used when no payer key is set.
var Unconfigured Transferer = unconfigured{}

// ValidateAddress checks that s is a base58 ed25519 public key.
func ValidateAddress(s string) error {
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

var lamportsPerSOL = decimal.NewFromInt(int64(solana.LAMPORTS_PER_SOL))

// ToLamports converts a SOL amount into lamports. Fractions of a lamport are
// rejected rather than rounded.
func ToLamports(amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive, got %s", amount)
	}
	l := amount.Mul(lamportsPerSOL)
	if !l.Equal(l.Truncate(0)) {
		return 0, fmt.Errorf("amount %s is not a whole number of lamports", amount)
	}
	return uint64(l.IntPart()), nil
}

// ParsePrivateKey decodes the JSON byte-array keypair format written by the
// solana CLI.
func ParsePrivateKey(raw string) (solana.PrivateKey, error) {
	var ints []int
	if err := json.Unmarshal([]byte(raw), &ints); err != nil {
		return nil, fmt.Errorf("decode keypair: %w", err)
	}
	if len(ints) != 64 {
		return nil, fmt.Errorf("keypair must hold 64 bytes, got %d", len(ints))
	}
	key := make(solana.PrivateKey, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("keypair byte %d out of range: %d", i, v)
		}
		key[i] = byte(v)
	}
	return key, nil
}
