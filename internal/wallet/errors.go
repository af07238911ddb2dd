package wallet

import (
	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/web3"
)

const (
	CodeProviderUnavailable xerrors.Code = "PROVIDER_UNAVAILABLE"
	CodeProviderRejected    xerrors.Code = "PROVIDER_REJECTED"
	CodeChainNotRegistered  xerrors.Code = "CHAIN_NOT_REGISTERED"
	CodeNotConnected        xerrors.Code = "WALLET_NOT_CONNECTED"
)

func init() {
	xerrors.Register(CodeProviderUnavailable, xerrors.Attributes{
		Message:  "MetaMask is not installed",
		Severity: xerrors.SeverityWarning,
		Notify:   true,
	})
	xerrors.Register(CodeProviderRejected, xerrors.Attributes{
		Message:  "wallet request was rejected",
		Severity: xerrors.SeverityInfo,
		Notify:   true,
	})
	xerrors.Register(CodeChainNotRegistered, xerrors.Attributes{
		Message:  "Please add this network to MetaMask first",
		Severity: xerrors.SeverityInfo,
		Notify:   true,
	})
	xerrors.Register(CodeNotConnected, xerrors.Attributes{
		Message:  "Please connect your wallet first",
		Severity: xerrors.SeverityInfo,
		Notify:   true,
	})
}

// classify maps a provider failure onto the session error codes.
func classify(err error, message string) error {
	code, ok := web3.ErrorCode(err)
	switch {
	case ok && (code == web3.CodeDisconnected || code == web3.CodeChainDisconnected):
		return xerrors.Wrap(CodeProviderUnavailable, err, message)
	default:
		return xerrors.Wrap(CodeProviderRejected, err, message)
	}
}
