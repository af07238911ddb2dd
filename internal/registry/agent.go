package registry

import (
	xerrors "CoinKeep/internal/errors"
)

// CodeAgentNotFound is returned by lookups of unknown agent ids.
const CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:  "Agent not found",
		Severity: xerrors.SeverityInfo,
		Notify:   true,
	})
}

// Agent is a registered AI agent. JSON names match the stored snapshot format.
type Agent struct {
	ID                   string   `json:"id"`
	Owner                string   `json:"owner"`
	TelegramHandle       string   `json:"telegramHandle"`
	AgentName            string   `json:"agentName"`
	Description          string   `json:"description"`
	AgentAddress         string   `json:"agentAddress,omitempty"`
	IsActive             bool     `json:"isActive"`
	RegistrationTime     int64    `json:"registrationTime"`
	WhitelistedMerchants []string `json:"whitelistedMerchants"`
}

// Draft carries the caller supplied fields of a new agent.
type Draft struct {
	Owner          string `json:"owner"`
	TelegramHandle string `json:"telegramHandle"`
	AgentName      string `json:"agentName"`
	Description    string `json:"description"`
	AgentAddress   string `json:"agentAddress,omitempty"`
	IsActive       bool   `json:"isActive"`
}

// Update is a partial update; nil fields are left alone. ID and
// RegistrationTime cannot be changed.
type Update struct {
	Owner                *string   `json:"owner,omitempty"`
	TelegramHandle       *string   `json:"telegramHandle,omitempty"`
	AgentName            *string   `json:"agentName,omitempty"`
	Description          *string   `json:"description,omitempty"`
	AgentAddress         *string   `json:"agentAddress,omitempty"`
	IsActive             *bool     `json:"isActive,omitempty"`
	WhitelistedMerchants *[]string `json:"whitelistedMerchants,omitempty"`
}

func (u Update) apply(a *Agent) {
	if u.Owner != nil {
		a.Owner = *u.Owner
	}
	if u.TelegramHandle != nil {
		a.TelegramHandle = *u.TelegramHandle
	}
	if u.AgentName != nil {
		a.AgentName = *u.AgentName
	}
	if u.Description != nil {
		a.Description = *u.Description
	}
	if u.AgentAddress != nil {
		a.AgentAddress = *u.AgentAddress
	}
	if u.IsActive != nil {
		a.IsActive = *u.IsActive
	}
	if u.WhitelistedMerchants != nil {
		a.WhitelistedMerchants = append([]string{}, (*u.WhitelistedMerchants)...)
	}
}

// HasMerchant reports whether address is whitelisted, by exact match.
func (a Agent) HasMerchant(address string) bool {
	for _, m := range a.WhitelistedMerchants {
		if m == address {
			return true
		}
	}
	return false
}

func cloneAgent(a Agent) Agent {
	out := a
	out.WhitelistedMerchants = append([]string{}, a.WhitelistedMerchants...)
	return out
}

func cloneAgents(list []Agent) []Agent {
	out := make([]Agent, len(list))
	for i, a := range list {
		out[i] = cloneAgent(a)
	}
	return out
}
