// Package wallet is the wallet session store: connection status, address and
// chain id of the wallet provider. State lives only in memory and is rebuilt
// from the provider after a restart.
package wallet
