package dashboard

import (
	xerrors "CoinKeep/internal/errors"
)

const (
	CodeValidation xerrors.Code = "VALIDATION_FAILED"
	CodeNotOwned   xerrors.Code = "AGENT_NOT_OWNED"
)

func init() {
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:  "Please fill in all required fields",
		Severity: xerrors.SeverityInfo,
		Notify:   true,
	})
	xerrors.Register(CodeNotOwned, xerrors.Attributes{
		Message:  "Agent is owned by another wallet",
		Severity: xerrors.SeverityWarning,
		Notify:   true,
	})
}

// User facing messages.
const (
	msgRequiredFields     = "Please fill in all required fields"
	msgHandlePrefix       = "Telegram handle must start with @"
	msgInvalidAgentAddr   = "Please enter a valid Ethereum address"
	msgInvalidMerchant    = "Invalid Ethereum address"
	msgDuplicateMerchant  = "Merchant already whitelisted"
	msgRegistrationFailed = "Registration failed. Please try again."
	msgRegistered         = "Agent registered successfully!"
	msgWhitelisted        = "Merchant whitelisted successfully!"
	msgRemoved            = "Merchant removed successfully!"
	msgUpdated            = "Agent updated successfully!"
	msgImmutableFields    = "Owner and merchants cannot be edited here"
)

func invalid(message string) error {
	return xerrors.New(CodeValidation, message)
}
