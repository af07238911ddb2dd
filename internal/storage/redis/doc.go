// Package redis implements the key-value storage adapter on Redis strings so
// several dashboard instances can share one agent registry snapshot.
package redis
