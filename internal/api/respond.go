package api

import (
	"encoding/json"
	"net/http"

	"CoinKeep/internal/dashboard"
	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/registry"
	"CoinKeep/internal/wallet"
	"CoinKeep/pkg/logger"
)

type errorBody struct {
	Error string       `json:"error"`
	Code  xerrors.Code `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure maps a unified error onto an HTTP status.
func writeFailure(w http.ResponseWriter, err error) {
	e, ok := xerrors.From(err)
	if !ok {
		logger.Named("api").Error("未分类错误", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := statusOf(e.Code())
	if status >= http.StatusInternalServerError {
		logger.Named("api").Error("请求失败", "code", e.Code(), "error", err)
	}
	writeJSON(w, status, errorBody{Error: e.Message(), Code: e.Code()})
}

func statusOf(code xerrors.Code) int {
	switch code {
	case dashboard.CodeValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case wallet.CodeNotConnected:
		return http.StatusUnauthorized
	case dashboard.CodeNotOwned:
		return http.StatusForbidden
	case registry.CodeAgentNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case wallet.CodeChainNotRegistered:
		return http.StatusConflict
	case wallet.CodeProviderRejected:
		return http.StatusBadGateway
	case wallet.CodeProviderUnavailable, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return false
	}
	return true
}
