package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"loopvault/strategy"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeStrategyError maps strategy sentinels onto HTTP statuses and stable
// error codes so callers can branch without string matching.
func writeStrategyError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, strategy.ErrZeroShares):
		status, code = http.StatusBadRequest, "zero_shares"
	case errors.Is(err, strategy.ErrZeroAssets):
		status, code = http.StatusBadRequest, "zero_assets"
	case errors.Is(err, strategy.ErrInsufficientAllowance):
		status, code = http.StatusForbidden, "insufficient_allowance"
	case errors.Is(err, strategy.ErrInsufficientShares):
		status, code = http.StatusConflict, "insufficient_shares"
	case errors.Is(err, strategy.ErrZeroCollateral):
		status, code = http.StatusConflict, "zero_collateral"
	case errors.Is(err, strategy.ErrRebalanceNotDue):
		status, code = http.StatusConflict, "rebalance_not_due"
	case errors.Is(err, strategy.ErrRebalanceInProgress):
		status, code = http.StatusConflict, "rebalance_in_progress"
	case errors.Is(err, strategy.ErrOraclePrice):
		status, code = http.StatusServiceUnavailable, "oracle_unavailable"
	}
	writeJSONError(w, status, code, err)
}

func writeBadRequest(w http.ResponseWriter, code string, err error) {
	writeJSONError(w, http.StatusBadRequest, code, err)
}

func writeJSONError(w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := ""
	if err != nil {
		message = err.Error()
	}
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
