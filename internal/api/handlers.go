package api

import (
	"fmt"
	"net/http"
	"strconv"

	"CoinKeep/internal/auth"
	"CoinKeep/internal/dashboard"
	"CoinKeep/internal/registry"
	"CoinKeep/internal/wallet"
	"CoinKeep/internal/web3"
)

// walletResponse 是钱包会话加上当前网络信息。
type walletResponse struct {
	wallet.State
	Network      web3.Chain `json:"network"`
	KnownNetwork bool       `json:"knownNetwork"`
}

func (s *Server) walletView(st wallet.State) walletResponse {
	chain, known := s.deps.Dashboard.CurrentChain()
	return walletResponse{State: st, Network: chain, KnownNetwork: known}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWallet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.walletView(s.deps.Dashboard.Wallet()))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Dashboard.ConnectWallet(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.walletView(st))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.walletView(s.deps.Dashboard.DisconnectWallet(r.Context())))
}

// switchChainRequest 的 chainId 可以是数字或 0x 十六进制字符串。
type switchChainRequest struct {
	ChainID any `json:"chainId"`
}

func (req switchChainRequest) parse() (uint64, error) {
	switch v := req.ChainID.(type) {
	case float64:
		if v <= 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("invalid chain id %v", v)
		}
		return uint64(v), nil
	case string:
		return web3.ParseChainID(v)
	default:
		return 0, fmt.Errorf("chainId is required")
	}
}

func (s *Server) handleSwitchChain(w http.ResponseWriter, r *http.Request) {
	var req switchChainRequest
	if !decode(w, r, &req) {
		return
	}
	chainID, err := req.parse()
	if err != nil || chainID == 0 {
		writeError(w, http.StatusBadRequest, "chainId 无效")
		return
	}
	st, err := s.deps.Dashboard.SwitchChain(r.Context(), chainID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.walletView(st))
}

func (s *Server) handleChains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Dashboard.Chains())
}

func (s *Server) handleMyAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.deps.Dashboard.MyAgents(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var form dashboard.Registration
	if !decode(w, r, &form) {
		return
	}
	agent, err := s.deps.Dashboard.RegisterAgent(r.Context(), form)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.deps.Dashboard.Agent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var update registry.Update
	if !decode(w, r, &update) {
		return
	}
	agent, err := s.deps.Dashboard.UpdateAgent(r.Context(), r.PathValue("id"), update)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type merchantRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleAddMerchant(w http.ResponseWriter, r *http.Request) {
	var req merchantRequest
	if !decode(w, r, &req) {
		return
	}
	agent, err := s.deps.Dashboard.WhitelistMerchant(r.Context(), r.PathValue("id"), req.Address)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleRemoveMerchant(w http.ResponseWriter, r *http.Request) {
	agent, err := s.deps.Dashboard.RemoveMerchant(r.Context(), r.PathValue("id"), r.PathValue("address"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifications == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Notifications.Recent(limit))
}

type sessionResponse struct {
	User     *auth.User `json:"user"`
	Method   string     `json:"method,omitempty"`
	LoggedIn bool       `json:"loggedIn"`
}

func sessionView(user auth.User, ok bool) sessionResponse {
	if !ok {
		return sessionResponse{}
	}
	return sessionResponse{User: &user, Method: user.Method(), LoggedIn: true}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	writeJSON(w, http.StatusOK, sessionView(s.deps.Auth.Current(r.Context())))
}

type loginRequest struct {
	Email string `json:"email"`
	Org   string `json:"org"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "登录服务未初始化")
		return
	}
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := s.deps.Auth.Login(r.Context(), req.Email, req.Org)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(user, true))
}

func (s *Server) handleSIWE(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "登录服务未初始化")
		return
	}
	user, err := s.deps.Auth.SignInWithEthereum(r.Context(), s.deps.Provider)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(user, true))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth != nil {
		s.deps.Auth.Logout(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}
