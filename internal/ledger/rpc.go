package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/fredfun/settlement-engine/internal/address"
	"github.com/fredfun/settlement-engine/internal/model"
	"github.com/fredfun/settlement-engine/internal/retry"
)

// RPCLedger talks to a Solana JSON-RPC endpoint.
type RPCLedger struct {
	client *rpc.Client
	retry  retry.Policy
	log    *slog.Logger

	// HistoryLimiter paces per-transaction detail requests to stay under
	// provider rate limits.
	HistoryLimiter *rate.Limiter
}

// NewRPCLedger creates a ledger backed by endpoint. Reads are retried with
// policy.
func NewRPCLedger(endpoint string, policy retry.Policy) *RPCLedger {
	return &RPCLedger{
		client:         rpc.New(endpoint),
		retry:          policy,
		log:            slog.With("component", "ledger"),
		HistoryLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

func (l *RPCLedger) Balance(ctx context.Context, owner solana.PublicKey) (decimal.Decimal, error) {
	return retry.Do(ctx, l.retry, "balance", func(ctx context.Context) (decimal.Decimal, error) {
		res, err := l.client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: get balance: %v", ErrUnavailable, err)
		}
		return model.FromSmallestUnit(res.Value, model.BaseDecimals), nil
	})
}

// TokenBalance returns zero when owner has no token account for mint.
func (l *RPCLedger) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (decimal.Decimal, error) {
	ata, err := address.TokenAccount(owner, mint)
	if err != nil {
		return decimal.Zero, err
	}
	return retry.Do(ctx, l.retry, "token_balance", func(ctx context.Context) (decimal.Decimal, error) {
		exists, err := l.accountExists(ctx, ata)
		if err != nil {
			return decimal.Zero, err
		}
		if !exists {
			return decimal.Zero, nil
		}
		res, err := l.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: get token balance: %v", ErrUnavailable, err)
		}
		if res.Value == nil {
			return decimal.Zero, nil
		}
		units, err := decimal.NewFromString(res.Value.Amount)
		if err != nil {
			return decimal.Zero, retry.Permanent(fmt.Errorf("ledger: parse token amount %q: %w", res.Value.Amount, err))
		}
		return units.Shift(-int32(res.Value.Decimals)), nil
	})
}

func (l *RPCLedger) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	return retry.Do(ctx, l.retry, "account_exists", func(ctx context.Context) (bool, error) {
		return l.accountExists(ctx, account)
	})
}

func (l *RPCLedger) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := l.client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get account info: %v", ErrUnavailable, err)
	}
	return true, nil
}

func (l *RPCLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return retry.Do(ctx, l.retry, "blockhash", func(ctx context.Context) (solana.Hash, error) {
		res, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return solana.Hash{}, fmt.Errorf("%w: get blockhash: %v", ErrUnavailable, err)
		}
		if res.Value == nil {
			return solana.Hash{}, fmt.Errorf("%w: empty blockhash response", ErrUnavailable)
		}
		return res.Value.Blockhash, nil
	})
}

// Submit sends a signed transaction with preflight checks. It is not
// retried here; the RPC node rebroadcasts up to three times.
func (l *RPCLedger) Submit(ctx context.Context, tx *solana.Transaction) (string, error) {
	maxRetries := uint(3)
	sig, err := l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
		MaxRetries:          &maxRetries,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitRejected, err)
	}
	l.log.Info("transaction submitted", "signature", sig.String())
	return sig.String(), nil
}

func (l *RPCLedger) OperationStatus(ctx context.Context, handle string) (model.LedgerStatus, error) {
	sig, err := solana.SignatureFromBase58(handle)
	if err != nil {
		return model.LedgerStatus{}, fmt.Errorf("ledger: invalid handle %q: %w", handle, err)
	}
	res, err := l.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return model.LedgerStatus{}, fmt.Errorf("%w: get signature status: %v", ErrUnavailable, err)
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return model.LedgerStatus{}, nil
	}
	st := res.Value[0]
	out := model.LedgerStatus{Found: true}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		out.Confirmed = true
	}
	if st.Err != nil {
		out.Confirmed = false
		out.Failure = fmt.Sprint(st.Err)
	}
	return out, nil
}

// RecentOperations lists the newest transactions touching owner. Details
// are fetched one at a time; a detail failure yields a Failed record
// rather than aborting the listing.
func (l *RPCLedger) RecentOperations(ctx context.Context, owner solana.PublicKey, limit int) ([]Record, error) {
	sigs, err := retry.Do(ctx, l.retry, "history", func(ctx context.Context) ([]*rpc.TransactionSignature, error) {
		res, err := l.client.GetSignaturesForAddressWithOpts(ctx, owner, &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: get signatures: %v", ErrUnavailable, err)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(sigs))
	for _, s := range sigs {
		rec := Record{Signature: s.Signature.String(), Failed: s.Err != nil}
		if s.BlockTime != nil {
			rec.BlockTime = s.BlockTime.Time()
		}

		if l.HistoryLimiter != nil {
			if err := l.HistoryLimiter.Wait(ctx); err != nil {
				return records, fmt.Errorf("rate limiter: %w", err)
			}
		}
		if err := l.fillDetails(ctx, owner, s.Signature, &rec); err != nil {
			if ctx.Err() != nil {
				return records, ctx.Err()
			}
			l.log.Warn("transaction details unavailable", "signature", rec.Signature, "error", err)
			rec.Failed = true
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *RPCLedger) fillDetails(ctx context.Context, owner solana.PublicKey, sig solana.Signature, rec *Record) error {
	version := uint64(0)
	res, err := l.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &version,
	})
	if err != nil {
		return err
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return nil
	}
	rec.Fee = res.Meta.Fee
	rec.TokenActivity = len(res.Meta.PostTokenBalances) > 0

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return err
	}
	for i, key := range tx.Message.AccountKeys {
		if !key.Equals(owner) {
			continue
		}
		if i < len(res.Meta.PreBalances) && i < len(res.Meta.PostBalances) {
			delta := int64(res.Meta.PostBalances[i]) - int64(res.Meta.PreBalances[i])
			rec.Delta = &delta
		}
		break
	}
	return nil
}
