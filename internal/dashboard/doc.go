// Package dashboard holds the checks the merchant views performed before
// touching the stores: wallet gating, ownership, form validation and
// duplicate merchant rejection. Every outcome is surfaced as a notification
// and registry changes are announced on the agent event feed.
package dashboard
