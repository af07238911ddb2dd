package web3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC methods understood by wallet providers.
const (
	MethodRequestAccounts   = "eth_requestAccounts"
	MethodAccounts          = "eth_accounts"
	MethodChainID           = "eth_chainId"
	MethodSwitchChain       = "wallet_switchEthereumChain"
	MethodPersonalSign      = "personal_sign"
	MethodRevokePermissions = "wallet_revokePermissions"
)

// Provider error codes defined by EIP-1193 and EIP-3326.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
)

// Event names a provider notification.
type Event string

const (
	EventAccountsChanged Event = "accountsChanged"
	EventChainChanged    Event = "chainChanged"
)

// Notification is the payload delivered to listeners. Accounts is set for
// accountsChanged, ChainID (0x-prefixed hex) for chainChanged.
type Notification struct {
	Event    Event
	Accounts []string
	ChainID  string
}

// Listener receives provider notifications.
type Listener func(Notification)

// Provider is the wallet capability injected into the session store.
type Provider interface {
	// Request performs a JSON-RPC style call and returns the raw result.
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	// On registers a listener and returns the function that removes it.
	On(event Event, listener Listener) (unsubscribe func())
}

// SwitchChainParams is the single parameter of wallet_switchEthereumChain.
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

// RPCError is a provider error carrying a numeric code. It satisfies the
// go-ethereum rpc.Error interface so node errors and wallet errors can be
// inspected the same way.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrorCode implements rpc.Error.
func (e *RPCError) ErrorCode() int { return e.Code }

// NewRPCError builds an RPCError.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// ErrorCode extracts the provider code from err, if it carries one.
func ErrorCode(err error) (int, bool) {
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		return coded.ErrorCode(), true
	}
	return 0, false
}

// RequestInto calls the provider and decodes the result into out.
func RequestInto(ctx context.Context, p Provider, out any, method string, params ...any) error {
	raw, err := p.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
