package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidepool-exchange/tidepool/internal/swap"
)

type swapCreateParams struct {
	PairID            string `json:"pairId"`
	OrderSide         string `json:"orderSide"`
	Invoice           string `json:"invoice"`
	ClaimPubKey       string `json:"claimPublicKey"`
	OnchainAmount     uint64 `json:"onchainAmount"`
	TimeoutBlockDelta uint32 `json:"timeoutBlockDelta"`
}

func (s *Server) swapCreate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params swapCreateParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	side, err := swap.ParseOrderSide(params.OrderSide)
	if err != nil {
		return nil, err
	}

	created, err := s.manager.CreateReverseSwap(ctx, swap.CreateReverseSwapParams{
		PairID:            params.PairID,
		OrderSide:         side,
		Invoice:           params.Invoice,
		ClaimPubKey:       params.ClaimPubKey,
		OnchainAmount:     params.OnchainAmount,
		TimeoutBlockDelta: params.TimeoutBlockDelta,
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"id":                 created.ID,
		"lockupAddress":      created.LockupAddress,
		"redeemScript":       created.RedeemScript,
		"timeoutBlockHeight": created.TimeoutBlockHeight,
	}, nil
}

type swapIDParams struct {
	ID string `json:"id"`
}

func (s *Server) swapGet(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params swapIDParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	record, err := s.repo.GetReverseSwap(params.ID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"id":                 record.ID,
		"pairId":             record.PairID,
		"status":             record.Status,
		"lockupAddress":      record.LockupAddress,
		"redeemScript":       record.RedeemScript,
		"onchainAmount":      record.OnchainAmount,
		"timeoutBlockHeight": record.TimeoutBlockHeight,
		"transactionId":      record.TransactionID,
	}, nil
}

type swapLockupParams struct {
	ID          string  `json:"id"`
	SatPerVbyte float64 `json:"satPerVbyte"`
}

func (s *Server) swapLockup(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params swapLockupParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	sent, err := s.manager.SendLockupTransaction(ctx, params.ID, params.SatPerVbyte)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"transactionId": sent.TransactionID,
	}
	if sent.Vout != nil {
		result["vout"] = *sent.Vout
	}
	if sent.Fee != nil {
		result["fee"] = *sent.Fee
	}
	return result, nil
}

type swapSettleParams struct {
	ID       string `json:"id"`
	Preimage string `json:"preimage"`
}

func (s *Server) swapSettle(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params swapSettleParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	if err := s.manager.SettleReverseSwap(ctx, params.ID, params.Preimage); err != nil {
		return nil, err
	}
	return map[string]interface{}{"settled": true}, nil
}

type swapRefundParams struct {
	ID          string `json:"id"`
	FeePerVbyte uint64 `json:"feePerVbyte"`
}

func (s *Server) swapRefund(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params swapRefundParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	rawTx, err := s.manager.RefundReverseSwap(ctx, params.ID, params.FeePerVbyte)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"refundTransaction": rawTx}, nil
}

type walletBalanceParams struct {
	Symbol string `json:"symbol"`
}

func (s *Server) walletBalance(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params walletBalanceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	provider, ok := s.wallets[params.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", swap.ErrUnknownCurrency, params.Symbol)
	}

	balance, err := provider.GetBalance(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"confirmed":   balance.Confirmed,
		"unconfirmed": balance.Unconfirmed,
		"total":       balance.Total(),
	}, nil
}

type ratesGetParams struct {
	PairID string `json:"pairId"`
}

func (s *Server) ratesGet(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params ratesGetParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	rate, err := s.rates.Rate(params.PairID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"pairId": params.PairID,
		"rate":   rate.String(),
	}, nil
}
