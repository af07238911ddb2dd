// Package config loads the CoinKeep daemon configuration: the JSON file that
// selects storage, wallet provider and event feed drivers, plus the
// environment overrides used for secrets such as wallet signing keys.
package config
