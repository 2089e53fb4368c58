package payment

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

type chainRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetHealth(ctx context.Context) (string, error)
}

// SolanaClient transfers lamports from the platform treasury keypair with a
// single system-program transfer per call.
type SolanaClient struct {
	rpc   chainRPC
	payer solana.PrivateKey
}

func NewSolanaClient(endpoint string, payer solana.PrivateKey) *SolanaClient {
	return &SolanaClient{rpc: rpc.New(endpoint), payer: payer}
}

func (s *SolanaClient) Transfer(ctx context.Context, wallet string, amount decimal.Decimal) (string, error) {
	to, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	lamports, err := ToLamports(amount)
	if err != nil {
		return "", err
	}

	recent, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}

	from := s.payer.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, from, to).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(from) {
			return &s.payer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return sig.String(), nil
}

// Ping checks the RPC node health.
func (s *SolanaClient) Ping(ctx context.Context) error {
	status, err := s.rpc.GetHealth(ctx)
	if err != nil {
		return err
	}
	if status != rpc.HealthOk {
		return fmt.Errorf("solana rpc health: %s", status)
	}
	return nil
}
