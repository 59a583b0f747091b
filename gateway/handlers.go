package gateway

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fxchain/crypto"
	"fxchain/native/settlement"
)

// Wire shapes. All token quantities travel as decimal strings so precision
// never depends on JSON number handling.

type amountRequest struct {
	Caller   string `json:"caller"`
	Amount   string `json:"amount"`
	Delegate bool   `json:"delegate,omitempty"`
}

type priceRequest struct {
	PriceE9    string `json:"priceE9"`
	ObservedAt int64  `json:"observedAt"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type expirationRequest struct {
	ExpirationMs int64 `json:"expirationMs"`
}

type targetCRRequest struct {
	TargetCRE9 string `json:"targetCRE9"`
}

type feeConfigRequest struct {
	StableMintBps       uint64 `json:"stableMintBps"`
	StableRedeemBps     uint64 `json:"stableRedeemBps"`
	LeverageMintBps     uint64 `json:"leverageMintBps"`
	LeverageRedeemBps   uint64 `json:"leverageRedeemBps"`
	LeverageRedeemL1Bps uint64 `json:"leverageRedeemL1Bps"`
	MintBonusL1Bps      uint64 `json:"mintBonusL1Bps"`
	MintBonusL2Bps      uint64 `json:"mintBonusL2Bps"`
	MintBonusL3Bps      uint64 `json:"mintBonusL3Bps"`
	RedeemBonusL2Bps    uint64 `json:"redeemBonusL2Bps"`
	RedeemBonusL3Bps    uint64 `json:"redeemBonusL3Bps"`
	Recipient           string `json:"recipient,omitempty"`
}

type bpsRequest struct {
	Bps uint64 `json:"bps"`
}

type delegateFeeRequest struct {
	Fee string `json:"fee"`
}

type withdrawRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type mintResponse struct {
	Minted string `json:"minted"`
	Fee    string `json:"fee"`
	Bonus  string `json:"bonus"`
	Level  string `json:"level"`
}

type ticketBody struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Amount    string `json:"amount"`
	ExpiresAt int64  `json:"expiresAt"`
	Delegated bool   `json:"delegated"`
}

type redeemResponse struct {
	Payout    string      `json:"payout"`
	Immediate string      `json:"immediate"`
	Fee       string      `json:"fee"`
	Bonus     string      `json:"bonus"`
	Level     string      `json:"level"`
	Ticket    *ticketBody `json:"ticket,omitempty"`
}

type stateResponse struct {
	ID             string `json:"id"`
	Buffer         string `json:"buffer"`
	ReserveBalance string `json:"reserveBalance"`
	StableSupply   string `json:"stableSupply"`
	LeverageSupply string `json:"leverageSupply"`
	Pf             string `json:"pf"`
	Px             string `json:"px"`
	LastPrice      string `json:"lastPrice"`
	LastOracleTime int64  `json:"lastOracleTime"`
	FeesCollected  string `json:"feesCollected"`
	FeeTreasury    string `json:"feeTreasury"`
	Paused         bool   `json:"paused"`
}

func decodeBody(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount %q", settlement.ErrInvalidAmount, raw)
	}
	return amount, nil
}

func parseCaller(raw string) (crypto.Address, error) {
	return crypto.DecodeAddress(raw)
}

func ticketToBody(ticket *settlement.RedemptionTicket) *ticketBody {
	if ticket == nil {
		return nil
	}
	return &ticketBody{
		ID:        ticket.ID,
		Owner:     ticket.Owner.String(),
		Amount:    ticket.Amount.String(),
		ExpiresAt: ticket.ExpiresAt,
		Delegated: ticket.Delegated,
	}
}

func redeemToBody(result *settlement.RedeemResult) redeemResponse {
	return redeemResponse{
		Payout:    result.Payout.String(),
		Immediate: result.Immediate.String(),
		Fee:       result.Fee.String(),
		Bonus:     result.Bonus.String(),
		Level:     result.Level.String(),
		Ticket:    ticketToBody(result.Ticket),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.proto.Health()
	if err != nil {
		s.writeError(w, err)
		return
	}
	body := map[string]interface{}{
		"healthy": report.Healthy,
		"level":   report.Level.String(),
		"reasons": report.Reasons,
	}
	if report.CR != nil {
		body["collateralRatioE9"] = report.CR.String()
	}
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, body)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.proto.Snapshot()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stateResponse{
		ID:             state.ID,
		Buffer:         state.Buffer.String(),
		ReserveBalance: state.ReserveBalance.String(),
		StableSupply:   state.StableSupply.String(),
		LeverageSupply: state.LeverageSupply.String(),
		Pf:             state.Pf.String(),
		Px:             state.Px.String(),
		LastPrice:      state.LastPrice.String(),
		LastOracleTime: state.LastOracleTime,
		FeesCollected:  state.FeesCollected.String(),
		FeeTreasury:    state.FeeTreasury.String(),
		Paused:         state.Paused,
	})
}

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	level, err := s.proto.Level()
	if err != nil {
		s.writeError(w, err)
		return
	}
	body := map[string]interface{}{"level": level.String()}
	if ratio, err := s.proto.CollateralRatio(); err == nil && ratio != nil {
		body["collateralRatioE9"] = ratio.String()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.proto.Ticket(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ticket == nil {
		s.writeError(w, settlement.ErrTicketNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, ticketToBody(ticket))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseCaller(chi.URLParam(r, "address"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	account, err := s.proto.Account(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"address":     addr.String(),
		"balanceRSV":  account.BalanceRSV.String(),
		"balanceFUSD": account.BalanceFUSD.String(),
		"balanceXRS":  account.BalanceXRS.String(),
	})
}

func (s *Server) handlePoolPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := parseCaller(chi.URLParam(r, "address"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	balance, err := s.proto.PoolBalance(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	reward, err := s.proto.PoolPendingReward(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"address":       addr.String(),
		"balance":       balance.String(),
		"pendingReward": reward.String(),
	})
}

func (s *Server) handleQuoteMint(w http.ResponseWriter, r *http.Request, quote func(*big.Int) (*settlement.MintResult, error)) {
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := quote(amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mintResponse{
		Minted: result.Minted.String(),
		Fee:    result.Fee.String(),
		Bonus:  result.Bonus.String(),
		Level:  result.Level.String(),
	})
}

func (s *Server) handleQuoteRedeem(w http.ResponseWriter, r *http.Request, quote func(*big.Int) (*settlement.RedeemResult, error)) {
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := quote(amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, redeemToBody(result))
}

func (s *Server) handleQuoteMintStable(w http.ResponseWriter, r *http.Request) {
	s.handleQuoteMint(w, r, s.proto.QuoteMintStable)
}

func (s *Server) handleQuoteMintLeverage(w http.ResponseWriter, r *http.Request) {
	s.handleQuoteMint(w, r, s.proto.QuoteMintLeverage)
}

func (s *Server) handleQuoteRedeemStable(w http.ResponseWriter, r *http.Request) {
	s.handleQuoteRedeem(w, r, s.proto.QuoteRedeemStable)
}

func (s *Server) handleQuoteRedeemLeverage(w http.ResponseWriter, r *http.Request) {
	s.handleQuoteRedeem(w, r, s.proto.QuoteRedeemLeverage)
}

type mintFunc func(crypto.Address, *big.Int) (*settlement.MintResult, error)

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request, mint mintFunc) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := mint(caller, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mintResponse{
		Minted: result.Minted.String(),
		Fee:    result.Fee.String(),
		Bonus:  result.Bonus.String(),
		Level:  result.Level.String(),
	})
}

func (s *Server) handleMintStable(w http.ResponseWriter, r *http.Request) {
	s.handleMint(w, r, s.proto.MintStable)
}

func (s *Server) handleMintLeverage(w http.ResponseWriter, r *http.Request) {
	s.handleMint(w, r, s.proto.MintLeverage)
}

type redeemFunc func(crypto.Address, *big.Int, bool) (*settlement.RedeemResult, error)

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request, redeem redeemFunc) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := redeem(caller, amount, req.Delegate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, redeemToBody(result))
}

func (s *Server) handleRedeemStable(w http.ResponseWriter, r *http.Request) {
	s.handleRedeem(w, r, s.proto.RedeemStable)
}

func (s *Server) handleRedeemLeverage(w http.ResponseWriter, r *http.Request) {
	s.handleRedeem(w, r, s.proto.RedeemLeverage)
}

func (s *Server) handleClaimTicket(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	claim, err := s.proto.ClaimTicket(caller, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"paid": claim.Paid.String(),
		"fee":  claim.Fee.String(),
	})
}

func (s *Server) handleReclaimTicket(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.proto.ReclaimExpiredTicket(caller, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"reclaimed": true})
}

func (s *Server) handlePoolDeposit(w http.ResponseWriter, r *http.Request) {
	s.handlePoolMove(w, r, s.proto.PoolDeposit)
}

func (s *Server) handlePoolWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handlePoolMove(w, r, s.proto.PoolWithdraw)
}

func (s *Server) handlePoolMove(w http.ResponseWriter, r *http.Request, move func(crypto.Address, *big.Int) error) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := move(caller, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleClaimPoolReward(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	result, err := s.proto.ClaimPoolReward(caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, redeemToBody(result))
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	price, err := parseAmount(req.PriceE9)
	if err != nil {
		s.writeError(w, err)
		return
	}
	observedAt := time.Now()
	if req.ObservedAt > 0 {
		observedAt = time.Unix(req.ObservedAt, 0)
	}
	if err := s.proto.UpdatePrice(price, observedAt); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRebalanceBuffer(w http.ResponseWriter, r *http.Request) {
	summary, err := s.proto.RebalanceBuffer()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"staked":    summary.Staked.String(),
		"converted": summary.Converted.String(),
		"feeSlice":  summary.FeeSlice.String(),
		"topUp":     summary.BufferTopUp.String(),
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	result, err := s.proto.SettleAndConsolidate()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"convertedPrincipal": result.ConvertedPrincipal.String(),
		"convertedValue":     result.ConvertedValue.String(),
	})
}

func (s *Server) handleHarvestYield(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.proto.HarvestYield(caller, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"bounty":  result.Bounty.String(),
		"indexed": result.Indexed.String(),
	})
}

func (s *Server) handleSetFeeConfig(w http.ResponseWriter, r *http.Request) {
	var req feeConfigRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	fees := settlement.FeeConfig{
		StableMintBps:       req.StableMintBps,
		StableRedeemBps:     req.StableRedeemBps,
		LeverageMintBps:     req.LeverageMintBps,
		LeverageRedeemBps:   req.LeverageRedeemBps,
		LeverageRedeemL1Bps: req.LeverageRedeemL1Bps,
		MintBonusL1Bps:      req.MintBonusL1Bps,
		MintBonusL2Bps:      req.MintBonusL2Bps,
		MintBonusL3Bps:      req.MintBonusL3Bps,
		RedeemBonusL2Bps:    req.RedeemBonusL2Bps,
		RedeemBonusL3Bps:    req.RedeemBonusL3Bps,
	}
	if req.Recipient != "" {
		recipient, err := parseCaller(req.Recipient)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		fees.Recipient = recipient
	}
	if err := s.proto.SetFeeConfig(s.adminCap(), fees); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetBufferTarget(w http.ResponseWriter, r *http.Request) {
	var req bpsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.proto.SetBufferTarget(s.adminCap(), req.Bps); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetDelegateFee(w http.ResponseWriter, r *http.Request) {
	var req delegateFeeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	// A zero fee is valid here; it disables the delegate charge.
	fee, ok := new(big.Int).SetString(req.Fee, 10)
	if !ok {
		s.writeError(w, fmt.Errorf("%w: fee %q", settlement.ErrInvalidAmount, req.Fee))
		return
	}
	if err := s.proto.SetDelegateFee(s.adminCap(), fee); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWithdrawFeeTreasury(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	to, err := parseCaller(req.To)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.proto.WithdrawFeeTreasury(s.adminCap(), to, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.proto.SetPaused(s.adminCap(), req.Paused); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (s *Server) handleSetTicketExpiration(w http.ResponseWriter, r *http.Request) {
	var req expirationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.proto.SetTicketExpiration(s.adminCap(), req.ExpirationMs); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleEmergencyRebalance(w http.ResponseWriter, r *http.Request) {
	var req targetCRRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	target, err := parseAmount(req.TargetCRE9)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.proto.EmergencyRebalance(s.adminCap(), target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"burned": result.Burned.String(),
		"payout": result.Payout.String(),
	})
}
