// Package storage provides the key-value adapter the stores persist through.
// It stands in for browser localStorage: string keys, string (JSON) values,
// last writer wins. Drivers: memory, file, mysql and redis.
package storage
