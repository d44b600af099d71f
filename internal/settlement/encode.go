package settlement

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/fredfun/settlement-engine/internal/address"
	"github.com/fredfun/settlement-engine/internal/model"
)

// Envelope is one unsigned transaction together with the operation kinds
// it carries, in plan order.
type Envelope struct {
	Kinds []model.OperationKind
	Tx    *solana.Transaction
}

// Transactions encodes plan into unsigned transactions paid for by the
// sender. Sequential plans yield one transaction per operation; Atomic
// plans yield a single transaction holding every instruction in order.
func Transactions(plan *model.SettlementPlan, blockhash solana.Hash) ([]Envelope, error) {
	payer, err := address.Parse(plan.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}

	instrs := make([]solana.Instruction, 0, len(plan.Operations))
	for _, op := range plan.Operations {
		ix, err := instruction(plan, op)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, ix)
	}

	switch plan.Bundling {
	case model.BundlingSequential:
		out := make([]Envelope, 0, len(instrs))
		for i, ix := range instrs {
			tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
			if err != nil {
				return nil, fmt.Errorf("settlement: build %s transaction: %w", plan.Operations[i].Kind, err)
			}
			out = append(out, Envelope{Kinds: []model.OperationKind{plan.Operations[i].Kind}, Tx: tx})
		}
		return out, nil

	case model.BundlingAtomic:
		tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(payer))
		if err != nil {
			return nil, fmt.Errorf("settlement: build bundled transaction: %w", err)
		}
		kinds := make([]model.OperationKind, len(plan.Operations))
		for i, op := range plan.Operations {
			kinds[i] = op.Kind
		}
		return []Envelope{{Kinds: kinds, Tx: tx}}, nil

	default:
		return nil, fmt.Errorf("settlement: unknown bundling %q", plan.Bundling)
	}
}

func instruction(plan *model.SettlementPlan, op model.Operation) (solana.Instruction, error) {
	from, err := address.Parse(op.Source)
	if err != nil {
		return nil, err
	}
	to, err := address.Parse(op.Destination)
	if err != nil {
		return nil, err
	}

	switch {
	case op.Kind == model.OpAccountBootstrap:
		mint, err := address.Parse(plan.Mint)
		if err != nil {
			return nil, err
		}
		// The program funds the new account with its rent-exempt reserve.
		return associatedtokenaccount.NewCreateInstruction(from, to, mint).Build(), nil

	case op.Asset == model.AssetBase:
		return system.NewTransferInstruction(op.Units, from, to).Build(), nil

	case op.Asset == model.AssetToken:
		mint, err := address.Parse(plan.Mint)
		if err != nil {
			return nil, err
		}
		src, err := address.TokenAccount(from, mint)
		if err != nil {
			return nil, err
		}
		dst, err := address.TokenAccount(to, mint)
		if err != nil {
			return nil, err
		}
		return token.NewTransferInstruction(op.Units, src, dst, from, []solana.PublicKey{}).Build(), nil

	default:
		return nil, fmt.Errorf("settlement: cannot encode %s of %s", op.Kind, op.Asset)
	}
}
