// Package payment runs settlements end to end: it prices and plans a
// request, has the wallet sign each transaction, waits for the ledger to
// confirm it and keeps a persisted record of every attempt.
//
// All monetary values use shopspring/decimal, never float64.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/address"
	"github.com/fredfun/settlement-engine/internal/confirm"
	"github.com/fredfun/settlement-engine/internal/fee"
	"github.com/fredfun/settlement-engine/internal/funds"
	"github.com/fredfun/settlement-engine/internal/ledger"
	"github.com/fredfun/settlement-engine/internal/metrics"
	"github.com/fredfun/settlement-engine/internal/model"
	"github.com/fredfun/settlement-engine/internal/settlement"
	"github.com/fredfun/settlement-engine/internal/store"
	"github.com/fredfun/settlement-engine/internal/swap"
	"github.com/fredfun/settlement-engine/internal/wallet"
)

// DefaultSlippageBps is the swap slippage tolerance when none is configured.
const DefaultSlippageBps = 50

// Prices supplies the USD snapshot needed to price token amounts.
type Prices interface {
	Snapshot(ctx context.Context) (model.Prices, error)
}

// Swapper quotes swaps and builds their transactions.
type Swapper interface {
	Quote(ctx context.Context, req swap.QuoteRequest) (*swap.Quote, error)
	BuildSwapTransaction(ctx context.Context, quote *swap.Quote, user solana.PublicKey, feeAccount *solana.PublicKey) (*solana.Transaction, error)
}

// Notifier is told about every change to a settlement record.
type Notifier interface {
	SettlementUpdated(rec model.SettlementRecord)
}

// Deps are the collaborators of the service. Prices, Swapper and Notify
// are optional.
type Deps struct {
	Ledger  ledger.Ledger
	Wallet  wallet.Wallet
	Store   store.Store
	Prices  Prices
	Swapper Swapper
	Notify  Notifier
}

// Config holds the fee and settlement parameters.
type Config struct {
	Settlement   settlement.Config
	Swap         fee.Policy
	SlippageBps  int
	PollInterval time.Duration // zero keeps the pollers' one second

	// BundleTimeout bounds the wait for token transfers and swaps. Zero
	// keeps the poller default of sixty seconds.
	BundleTimeout time.Duration
}

// Service executes transfers and swaps for the connected wallet.
//
// Requests run one at a time per call; the two legs of a native transfer
// are always issued strictly one after the other. Only the steps before
// the first submission honour ctx cancellation.
type Service struct {
	deps     Deps
	cfg      Config
	composer *settlement.Composer
	swapFee  *fee.Calculator
	funds    *funds.Checker
	native   *confirm.Poller
	bundle   *confirm.Poller
	log      *slog.Logger
}

// NewService validates cfg and wires the service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Ledger == nil || deps.Wallet == nil || deps.Store == nil {
		return nil, errors.New("payment: ledger, wallet and store are required")
	}
	composer, err := settlement.NewComposer(cfg.Settlement)
	if err != nil {
		return nil, err
	}
	swapFee, err := fee.NewCalculator(cfg.Swap)
	if err != nil {
		return nil, err
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = DefaultSlippageBps
	}

	native := confirm.NativePoller(deps.Ledger)
	bundle := confirm.BundlePoller(deps.Ledger)
	if cfg.PollInterval > 0 {
		native.Interval = cfg.PollInterval
		bundle.Interval = cfg.PollInterval
	}
	if cfg.BundleTimeout > 0 {
		bundle.Timeout = cfg.BundleTimeout
	}

	return &Service{
		deps:     deps,
		cfg:      cfg,
		composer: composer,
		swapFee:  swapFee,
		funds:    funds.NewChecker(cfg.Settlement.Reserve),
		native:   native,
		bundle:   bundle,
		log:      slog.With("component", "payment"),
	}, nil
}

// --- Quotes and plans ---

// QuoteTransfer prices a transfer of amount without touching the ledger.
func (s *Service) QuoteTransfer(ctx context.Context, amount decimal.Decimal, asset model.AssetKind) (model.FeeQuote, error) {
	in := settlement.Intent{Amount: amount, Asset: asset}
	if asset == model.AssetToken {
		in.Prices = s.priceContext(ctx)
	}
	q, err := s.composer.Quote(in)
	if err != nil {
		return model.FeeQuote{}, s.reject(err)
	}
	if q.FloorApplied {
		metrics.FloorFeesApplied.WithLabelValues(q.Policy).Inc()
	}
	return q, nil
}

// Plan builds the settlement plan for a transfer from sender without
// submitting anything. Balances, prices and the recipient's token account
// are read from the ledger.
func (s *Service) Plan(ctx context.Context, sender, recipient string, amount decimal.Decimal, asset model.AssetKind) (*model.SettlementPlan, error) {
	senderKey, err := address.Parse(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", settlement.ErrInvalidSender, err)
	}
	if !asset.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAsset, asset)
	}

	in := settlement.Intent{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Asset:     asset,
	}

	var balances model.Balances
	balances.Base, err = s.deps.Ledger.Balance(ctx, senderKey)
	if err != nil {
		return nil, fmt.Errorf("payment: read balance: %w", err)
	}

	if asset == model.AssetToken {
		mint := s.cfg.Settlement.Mint
		balances.Token, err = s.deps.Ledger.TokenBalance(ctx, senderKey, mint)
		if err != nil {
			return nil, fmt.Errorf("payment: read token balance: %w", err)
		}
		recipientKey, err := address.ParseRecipient(recipient)
		if err != nil {
			return nil, s.reject(err)
		}
		ata, err := address.TokenAccount(recipientKey, mint)
		if err != nil {
			return nil, err
		}
		in.RecipientHasTokenAccount, err = s.deps.Ledger.AccountExists(ctx, ata)
		if err != nil {
			return nil, fmt.Errorf("payment: check recipient token account: %w", err)
		}
		in.Prices = s.priceContext(ctx)
	}

	plan, err := s.composer.Build(in, balances)
	if err != nil {
		return nil, s.reject(err)
	}
	if plan.Quote.FloorApplied {
		metrics.FloorFeesApplied.WithLabelValues(plan.Quote.Policy).Inc()
	}
	return plan, nil
}

// Balances reads owner's native and token balances.
func (s *Service) Balances(ctx context.Context, owner string) (model.Balances, error) {
	key, err := address.Parse(owner)
	if err != nil {
		return model.Balances{}, err
	}
	base, err := s.deps.Ledger.Balance(ctx, key)
	if err != nil {
		return model.Balances{}, err
	}
	token, err := s.deps.Ledger.TokenBalance(ctx, key, s.cfg.Settlement.Mint)
	if err != nil {
		return model.Balances{}, err
	}
	return model.Balances{Base: base, Token: token}, nil
}

// --- Transfers ---

// Transfer sends amount of asset from the connected wallet to recipient.
func (s *Service) Transfer(ctx context.Context, recipient string, amount decimal.Decimal, asset model.AssetKind) (*model.SettlementRecord, error) {
	switch asset {
	case model.AssetBase:
		return s.SendNative(ctx, recipient, amount)
	case model.AssetToken:
		return s.SendToken(ctx, recipient, amount)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAsset, asset)
	}
}

// SendNative pays recipient the net amount and the collector the fee as two
// sequential transactions.
//
// A nil record means nothing was submitted. Once the payment confirms the
// transfer counts as confirmed: a failing fee leg only sets PartialFailure
// on the record.
func (s *Service) SendNative(ctx context.Context, recipient string, amount decimal.Decimal) (*model.SettlementRecord, error) {
	sender, err := s.deps.Wallet.PublicKey()
	if err != nil {
		return nil, err
	}
	plan, err := s.Plan(ctx, sender.String(), recipient, amount, model.AssetBase)
	if err != nil {
		return nil, err
	}
	envs, err := s.encode(ctx, plan)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := s.open(ctx, model.KindNativeTransfer, plan)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	status, err := s.submit(ctx, rec, envs[0], s.native)
	if status != model.StatusConfirmed {
		s.finish(ctx, rec, status, start)
		return rec, err
	}

	// The payment is final; the fee leg runs regardless of the caller.
	post := context.WithoutCancel(ctx)
	if envs, err = s.encode(post, plan); err == nil {
		_, err = s.submit(post, rec, envs[1], s.native)
	} else {
		rec.Legs = append(rec.Legs, model.Leg{
			Kinds:  feeLegKinds(plan),
			Status: model.StatusFailed,
			Error:  err.Error(),
		})
	}
	if err != nil {
		rec.PartialFailure = true
		metrics.PartialFailures.Inc()
		s.log.Warn("fee leg failed after payment confirmed",
			"settlement", rec.ID,
			"fee", rec.FeeAmount.String(),
			"error", err,
		)
	}

	s.finish(post, rec, model.StatusConfirmed, start)
	return rec, nil
}

// SendToken moves the full token amount, opens the recipient's token
// account when needed and collects the fee in one atomic transaction.
func (s *Service) SendToken(ctx context.Context, recipient string, amount decimal.Decimal) (*model.SettlementRecord, error) {
	sender, err := s.deps.Wallet.PublicKey()
	if err != nil {
		return nil, err
	}
	plan, err := s.Plan(ctx, sender.String(), recipient, amount, model.AssetToken)
	if err != nil {
		return nil, err
	}
	envs, err := s.encode(ctx, plan)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := s.open(ctx, model.KindTokenTransfer, plan)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	status, err := s.submit(ctx, rec, envs[0], s.bundle)
	s.finish(context.WithoutCancel(ctx), rec, status, start)
	return rec, err
}

// --- Swaps ---

// SwapRequest asks to swap Amount of From into the other asset.
type SwapRequest struct {
	From   model.AssetKind `json:"from"`
	Amount decimal.Decimal `json:"amount"`
}

// SwapQuote is an aggregator route together with the service fee.
type SwapQuote struct {
	From           model.AssetKind `json:"from"`
	To             model.AssetKind `json:"to"`
	InAmount       decimal.Decimal `json:"in_amount"`
	OutAmount      decimal.Decimal `json:"out_amount"`
	MinOutAmount   decimal.Decimal `json:"min_out_amount"`
	PriceImpactPct decimal.Decimal `json:"price_impact_pct"`
	SlippageBps    int             `json:"slippage_bps"`
	Route          string          `json:"route,omitempty"`
	Fee            model.FeeQuote  `json:"fee"`

	route *swap.Quote
}

type swapLeg struct {
	from, to      model.AssetKind
	in, out       solana.PublicKey
	inDec, outDec int32
}

func (s *Service) swapLeg(from model.AssetKind) (swapLeg, error) {
	mint, dec := s.cfg.Settlement.Mint, s.cfg.Settlement.TokenDecimals
	switch from {
	case model.AssetBase:
		return swapLeg{model.AssetBase, model.AssetToken, swap.WrappedSOL, mint, model.BaseDecimals, dec}, nil
	case model.AssetToken:
		return swapLeg{model.AssetToken, model.AssetBase, mint, swap.WrappedSOL, dec, model.BaseDecimals}, nil
	default:
		return swapLeg{}, fmt.Errorf("%w: %q", ErrUnsupportedAsset, from)
	}
}

// QuoteSwap fetches the best route for req and prices the service fee. The
// platform fee is passed to the aggregator in basis points.
func (s *Service) QuoteSwap(ctx context.Context, req SwapRequest) (*SwapQuote, error) {
	if s.deps.Swapper == nil {
		return nil, ErrSwapsDisabled
	}
	leg, err := s.swapLeg(req.From)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, s.reject(fmt.Errorf("%w: %s", fee.ErrInvalidAmount, req.Amount))
	}
	units, err := model.ToSmallestUnit(req.Amount, leg.inDec)
	if err != nil {
		return nil, err
	}
	if units == 0 {
		return nil, s.reject(fmt.Errorf("%w: %s", settlement.ErrZeroTransfer, req.Amount))
	}

	var prices fee.PriceContext
	if req.From == model.AssetToken {
		prices = s.priceContext(ctx)
	}
	feeQuote, err := s.swapFee.Compute(req.Amount, req.From, prices)
	if err != nil {
		return nil, s.reject(err)
	}

	q, err := s.deps.Swapper.Quote(ctx, swap.QuoteRequest{
		InputMint:      leg.in,
		OutputMint:     leg.out,
		Amount:         units,
		SlippageBps:    s.cfg.SlippageBps,
		PlatformFeeBps: s.cfg.Swap.BasisPoints(),
	})
	if err != nil {
		return nil, s.reject(err)
	}

	return &SwapQuote{
		From:           leg.from,
		To:             leg.to,
		InAmount:       model.FromSmallestUnit(q.InAmount, leg.inDec),
		OutAmount:      model.FromSmallestUnit(q.OutAmount, leg.outDec),
		MinOutAmount:   model.FromSmallestUnit(q.MinOutAmount, leg.outDec),
		PriceImpactPct: q.PriceImpactPct,
		SlippageBps:    q.SlippageBps,
		Route:          q.Route,
		Fee:            feeQuote,
		route:          q,
	}, nil
}

// ExecuteSwap quotes, builds, signs and submits a swap for the connected
// wallet, then waits up to the bundle timeout for it to confirm.
//
// On timeout the record carries StatusTimedOut and the submitted handle so
// the outcome can be checked later; the error wraps ErrConfirmationTimeout.
func (s *Service) ExecuteSwap(ctx context.Context, req SwapRequest) (*model.SettlementRecord, *SwapQuote, error) {
	if s.deps.Swapper == nil {
		return nil, nil, ErrSwapsDisabled
	}
	user, err := s.deps.Wallet.PublicKey()
	if err != nil {
		return nil, nil, err
	}
	leg, err := s.swapLeg(req.From)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkSwapFunds(ctx, user, req); err != nil {
		return nil, nil, s.reject(err)
	}

	quote, err := s.QuoteSwap(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var feeAccount *solana.PublicKey
	collectorATA, err := address.TokenAccount(s.cfg.Settlement.Collector, leg.out)
	if err != nil {
		return nil, nil, err
	}
	exists, err := s.deps.Ledger.AccountExists(ctx, collectorATA)
	switch {
	case err != nil:
		return nil, nil, fmt.Errorf("payment: check fee account: %w", err)
	case exists:
		feeAccount = &collectorATA
	default:
		s.log.Warn("fee account missing, swapping without platform fee", "account", collectorATA.String())
	}

	tx, err := s.deps.Swapper.BuildSwapTransaction(ctx, quote.route, user, feeAccount)
	if err != nil {
		return nil, quote, err
	}
	if err := ctx.Err(); err != nil {
		return nil, quote, err
	}

	now := time.Now().UTC()
	rec := &model.SettlementRecord{
		ID:          uuid.NewString(),
		Kind:        model.KindSwap,
		Sender:      user.String(),
		Recipient:   user.String(),
		Asset:       req.From,
		GrossAmount: req.Amount,
		FeeAmount:   quote.Fee.FeeAmount,
		Status:      model.StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.create(ctx, rec); err != nil {
		return nil, quote, err
	}

	start := time.Now()
	env := settlement.Envelope{Kinds: []model.OperationKind{model.OpPayment}, Tx: tx}
	status, err := s.submit(ctx, rec, env, s.bundle)
	s.finish(context.WithoutCancel(ctx), rec, status, start)
	return rec, quote, err
}

// checkSwapFunds requires the swap fee floor in the base asset on top of
// whatever the swap itself spends.
func (s *Service) checkSwapFunds(ctx context.Context, user solana.PublicKey, req SwapRequest) error {
	floor := s.cfg.Swap.Floor
	base, err := s.deps.Ledger.Balance(ctx, user)
	if err != nil {
		return fmt.Errorf("payment: read balance: %w", err)
	}
	if req.From == model.AssetBase {
		return s.funds.CheckAmount(model.AssetBase, req.Amount.Add(floor), base)
	}
	token, err := s.deps.Ledger.TokenBalance(ctx, user, s.cfg.Settlement.Mint)
	if err != nil {
		return fmt.Errorf("payment: read token balance: %w", err)
	}
	if err := s.funds.CheckAmount(model.AssetToken, req.Amount, token); err != nil {
		return err
	}
	return s.funds.CheckAmount(model.AssetBase, floor, base)
}

// --- Records ---

// Settlement returns a persisted record.
func (s *Service) Settlement(ctx context.Context, id string) (*model.SettlementRecord, error) {
	return s.deps.Store.GetSettlement(ctx, id)
}

// Settlements lists the records an account took part in, newest first.
func (s *Service) Settlements(ctx context.Context, account string, limit int) ([]model.SettlementRecord, error) {
	if limit <= 0 {
		limit = store.DefaultPage
	}
	return s.deps.Store.ListSettlementsByAccount(ctx, account, limit)
}

// --- Internals ---

func (s *Service) priceContext(ctx context.Context) fee.PriceContext {
	if s.deps.Prices == nil {
		return fee.PriceContext{}
	}
	// A missing price stays zero and the fee calculator rejects it. The
	// price service already logs an incomplete snapshot.
	p, _ := s.deps.Prices.Snapshot(ctx)
	return fee.PriceContext{TokenPriceUSD: p.TokenUSD, BasePriceUSD: p.BaseUSD}
}

func (s *Service) encode(ctx context.Context, plan *model.SettlementPlan) ([]settlement.Envelope, error) {
	bh, err := s.deps.Ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment: latest blockhash: %w", err)
	}
	return settlement.Transactions(plan, bh)
}

func (s *Service) open(ctx context.Context, kind model.SettlementKind, plan *model.SettlementPlan) (*model.SettlementRecord, error) {
	now := time.Now().UTC()
	rec := &model.SettlementRecord{
		ID:          plan.ID,
		Kind:        kind,
		Sender:      plan.Sender,
		Recipient:   plan.Recipient,
		Asset:       plan.Quote.AssetKind,
		GrossAmount: plan.Quote.GrossAmount,
		FeeAmount:   plan.Quote.FeeAmount,
		Status:      model.StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) create(ctx context.Context, rec *model.SettlementRecord) error {
	if err := s.deps.Store.CreateSettlement(ctx, rec); err != nil {
		return fmt.Errorf("payment: persist settlement: %w", err)
	}
	s.notify(rec)
	return nil
}

// submit signs and submits one envelope, appends its leg to rec and waits
// for a terminal status.
func (s *Service) submit(ctx context.Context, rec *model.SettlementRecord, env settlement.Envelope, p *confirm.Poller) (model.SettlementStatus, error) {
	leg := model.Leg{Kinds: env.Kinds, Status: model.StatusSubmitted}

	handle, err := s.deps.Wallet.SignAndSubmit(ctx, env.Tx)
	if err != nil {
		if errors.Is(err, ledger.ErrSubmitRejected) {
			err = fmt.Errorf("%w: %w", confirm.ErrSettlementFailed, err)
		}
		leg.Status = model.StatusFailed
		leg.Error = err.Error()
		rec.Legs = append(rec.Legs, leg)
		s.save(ctx, rec)
		s.log.Warn("submission failed", "settlement", rec.ID, "kinds", env.Kinds, "error", err)
		return model.StatusFailed, err
	}

	leg.Handle = handle
	rec.Legs = append(rec.Legs, leg)
	idx := len(rec.Legs) - 1
	s.save(ctx, rec)
	s.log.Info("transaction submitted", "settlement", rec.ID, "handle", handle, "kinds", env.Kinds)

	status, err := p.Await(ctx, handle)
	rec.Legs[idx].Status = status
	if err != nil {
		rec.Legs[idx].Error = err.Error()
	}
	s.save(ctx, rec)
	return status, err
}

func (s *Service) finish(ctx context.Context, rec *model.SettlementRecord, status model.SettlementStatus, start time.Time) {
	rec.Status = status
	s.save(ctx, rec)

	kind := string(rec.Kind)
	metrics.SettlementsTotal.WithLabelValues(kind, string(status)).Inc()
	metrics.SettlementLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if status == model.StatusConfirmed && !rec.PartialFailure {
		metrics.FeesCollected.WithLabelValues(s.policyName(rec.Kind)).Add(rec.FeeAmount.InexactFloat64())
	}

	s.log.Info("settlement finished",
		"settlement", rec.ID,
		"kind", rec.Kind,
		"status", status,
		"partial_failure", rec.PartialFailure,
		"gross", rec.GrossAmount.String(),
		"fee", rec.FeeAmount.String(),
	)
}

// save persists the mutable part of rec. Store errors are logged, never
// returned: the ledger outcome is already decided.
func (s *Service) save(ctx context.Context, rec *model.SettlementRecord) {
	rec.UpdatedAt = time.Now().UTC()
	if err := s.deps.Store.UpdateSettlement(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Error("persist settlement failed", "settlement", rec.ID, "error", err)
	}
	s.notify(rec)
}

func (s *Service) notify(rec *model.SettlementRecord) {
	if s.deps.Notify == nil {
		return
	}
	c := *rec
	c.Legs = append([]model.Leg(nil), rec.Legs...)
	s.deps.Notify.SettlementUpdated(c)
}

func (s *Service) reject(err error) error {
	metrics.Rejections.WithLabelValues(reason(err)).Inc()
	return err
}

func (s *Service) policyName(kind model.SettlementKind) string {
	switch kind {
	case model.KindNativeTransfer:
		return s.cfg.Settlement.Transfer.Name
	case model.KindTokenTransfer:
		return s.cfg.Settlement.TokenTransfer.Name
	default:
		return s.cfg.Swap.Name
	}
}

func feeLegKinds(plan *model.SettlementPlan) []model.OperationKind {
	if len(plan.Operations) < 2 {
		return nil
	}
	return []model.OperationKind{plan.Operations[1].Kind}
}
