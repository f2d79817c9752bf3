package api

import (
	"errors"
	"net/http"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/conn"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/execution"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/multicall"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/quote"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/wallet"
)

// apiError is a client-visible failure with a stable code.
type apiError struct {
	Status  int
	Code    string
	Message string
	Extra   map[string]any
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func badRequest(code, msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Message: msg}
}

func (e *apiError) with(k string, v any) *apiError {
	if e.Extra == nil {
		e.Extra = map[string]any{}
	}
	e.Extra[k] = v
	return e
}

func (e *apiError) body(endpoint string) map[string]any {
	out := map[string]any{"error": e.Code, "message": e.Message, "endpoint": endpoint}
	for k, v := range e.Extra {
		out[k] = v
	}
	return out
}

// classify maps domain errors onto API errors.
func classify(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	var ce *multicall.CallError
	switch {
	case errors.Is(err, quote.ErrUnsupported):
		return badRequest("UNSUPPORTED_TRADING_STATUS", err.Error())
	case errors.As(err, &ce), errors.Is(err, execution.ErrNoQuote):
		return &apiError{Status: http.StatusUnprocessableEntity, Code: "SIMULATION_FAILED", Message: err.Error()}
	case errors.Is(err, wallet.ErrNotFound):
		return badRequest("WALLET_NOT_FOUND", err.Error())
	case errors.Is(err, execution.ErrAllowanceInsufficient):
		return badRequest("ALLOWANCE_INSUFFICIENT", err.Error())
	case errors.Is(err, execution.ErrNoFunds):
		return badRequest("NO_FUNDS", err.Error())
	case errors.Is(err, execution.ErrZeroAmount):
		return badRequest("INVALID_AMOUNT", err.Error())
	case errors.Is(err, quote.ErrBadPercent):
		return badRequest("INVALID_PERCENT", err.Error())
	case errors.Is(err, conn.ErrNotConnected):
		return &apiError{Status: http.StatusServiceUnavailable, Code: "RPC_UNAVAILABLE", Message: err.Error()}
	default:
		return &apiError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: err.Error()}
	}
}
