package gateway

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"loopvault/strategy"
)

const requestLimit = 1 << 20 // 1 MiB

type vaultRoutes struct {
	vault      *strategy.Vault
	rebalancer *strategy.Rebalancer
}

func (vr *vaultRoutes) mount(r chi.Router) {
	r.Get("/summary", vr.summary)
	r.Get("/position", vr.position)
	r.Get("/balance/{address}", vr.balance)
	r.Get("/rebalance/due", vr.rebalanceDue)
	r.Post("/deposit", vr.deposit)
	r.Post("/mint", vr.mint)
	r.Post("/withdraw", vr.withdraw)
	r.Post("/redeem", vr.redeem)
	r.Post("/approve", vr.approve)
}

type summaryResponse struct {
	Asset       string `json:"asset"`
	TotalAssets string `json:"totalAssets"`
	TotalShares string `json:"totalShares"`
}

func (vr *vaultRoutes) summary(w http.ResponseWriter, r *http.Request) {
	totalAssets, err := vr.vault.TotalAssets()
	if err != nil {
		writeStrategyError(w, err)
		return
	}
	writeJSON(w, summaryResponse{
		Asset:       vr.vault.Asset().Hex(),
		TotalAssets: totalAssets.String(),
		TotalShares: vr.vault.Ledger().TotalShares().String(),
	})
}

type positionResponse struct {
	CollateralValue string    `json:"collateralValue"`
	DebtValue       string    `json:"debtValue"`
	CurrentLTV      string    `json:"currentLtv,omitempty"`
	LastRebalance   time.Time `json:"lastRebalance"`
}

func (vr *vaultRoutes) position(w http.ResponseWriter, r *http.Request) {
	collateralValue, debtValue, err := vr.rebalancer.Position()
	if err != nil {
		writeStrategyError(w, err)
		return
	}
	resp := positionResponse{
		CollateralValue: collateralValue.String(),
		DebtValue:       debtValue.String(),
		LastRebalance:   vr.rebalancer.LastRebalance(),
	}
	if ltv, err := vr.rebalancer.CurrentLTV(); err == nil {
		resp.CurrentLTV = ltv.String()
	} else if !errors.Is(err, strategy.ErrZeroCollateral) {
		writeStrategyError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (vr *vaultRoutes) balance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, "invalid_address", err)
		return
	}
	writeJSON(w, map[string]string{"shares": vr.vault.Ledger().BalanceOf(owner).String()})
}

func (vr *vaultRoutes) rebalanceDue(w http.ResponseWriter, r *http.Request) {
	due, err := vr.rebalancer.IsRebalanceDue()
	if err != nil {
		writeStrategyError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"due": due})
}

type depositRequest struct {
	Caller   string `json:"caller"`
	Receiver string `json:"receiver"`
	Assets   string `json:"assets"`
	Shares   string `json:"shares"`
}

func (vr *vaultRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid_request", err)
		return
	}
	caller, receiver, err := parseAddressPair(req.Caller, req.Receiver)
	if err != nil {
		writeBadRequest(w, "invalid_address", err)
		return
	}
	assets, err := parseAmount(req.Assets)
	if err != nil {
		writeBadRequest(w, "invalid_amount", err)
		return
	}
	shares, err := vr.vault.Deposit(caller, receiver, assets)
	if err != nil {
		writeStrategyError(w, err)
		return
	}
	writeJSON(w, map[string]string{"shares": shares.String()})
}

func (vr *vaultRoutes) mint(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid_request", err)
		return
	}
	caller, receiver, err := parseAddressPair(req.Caller, req.Receiver)
	if err != nil {
		writeBadRequest(w, "invalid_address", err)
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeBadRequest(w, "invalid_amount", err)
		return
	}
	assets, err := vr.vault.Mint(caller, receiver, shares)
	if err != nil {
		writeStrategyError(w, err)
		return
	}
	writeJSON(w, map[string]string{"assets": assets.String()})
}

type withdrawRequest struct {
	Caller   string `json:"caller"`
	Receiver string `json:"receiver"`
	Owner    string `json:"owner"`
	Assets   string `json:"assets"`
	Shares   string `json:"shares"`
}

func (vr *vaultRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid_request", err)
		return
	}
	caller, receiver, owner, err := parseAddressTriple(req.Caller, req.Receiver, req.Owner)
	if err != nil {
		writeBadRequest(w, "invalid_address", err)
		return
	}
	assets, err := parseAmount(req.Assets)
	if err != nil {
		writeBadRequest(w, "invalid_amount", err)
		return
	}
	shares, err := vr.vault.Withdraw(caller, receiver, owner, assets)
	if err != nil {
		writeStrategyError(w, err)
		return
	}
	writeJSON(w, map[string]string{"shares": shares.String()})
}

func (vr *vaultRoutes) redeem(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid_request", err)
		return
	}
	caller, receiver, owner, err := parseAddressTriple(req.Caller, req.Receiver, req.Owner)
	if err != nil {
		writeBadRequest(w, "invalid_address", err)
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeBadRequest(w, "invalid_amount", err)
		return
	}
	assets, err := vr.vault.Redeem(caller, receiver, owner, shares)
	if err != nil {
		writeStrategyError(w, err)
		return
	}
	writeJSON(w, map[string]string{"assets": assets.String()})
}

type approveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Shares  string `json:"shares"`
}

func (vr *vaultRoutes) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid_request", err)
		return
	}
	owner, spender, err := parseAddressPair(req.Owner, req.Spender)
	if err != nil {
		writeBadRequest(w, "invalid_address", err)
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeBadRequest(w, "invalid_amount", err)
		return
	}
	if err := vr.vault.Ledger().SetAllowance(owner, spender, shares); err != nil {
		writeStrategyError(w, err)
		return
	}
	writeJSON(w, map[string]string{"allowance": shares.String()})
}

type rebalanceRoutes struct {
	rebalancer *strategy.Rebalancer
}

type rebalanceRequest struct {
	Caller string `json:"caller"`
}

func (rr *rebalanceRoutes) trigger(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, "invalid_request", err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeBadRequest(w, "invalid_address", err)
		return
	}
	if err := rr.rebalancer.Rebalance(caller); err != nil {
		writeStrategyError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAddressPair(a, b string) (common.Address, common.Address, error) {
	first, err := parseAddress(a)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	second, err := parseAddress(b)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return first, second, nil
}

func parseAddressTriple(a, b, c string) (common.Address, common.Address, common.Address, error) {
	first, second, err := parseAddressPair(a, b)
	if err != nil {
		return common.Address{}, common.Address{}, common.Address{}, err
	}
	third, err := parseAddress(c)
	if err != nil {
		return common.Address{}, common.Address{}, common.Address{}, err
	}
	return first, second, third, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return amount, nil
}
