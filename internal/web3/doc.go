// Package web3 holds the wallet-provider contract used by the session store
// (an EIP-1193 style request/notification interface), the chain catalogue
// loaded from configs/chains.yaml, and small helpers for validating and
// formatting EVM addresses and chain ids.
package web3
