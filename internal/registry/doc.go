// Package registry is the agent registry store. Agents are owned by wallet
// addresses and carry a mutable merchant whitelist; every mutation writes the
// whole collection through a Repository before it becomes visible.
package registry
