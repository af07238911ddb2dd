// Package mysql implements the key-value storage adapter on a MySQL table.
// Values are the same JSON documents the file driver keeps, one row per key;
// the schema is applied from deploy/migrations on open.
package mysql
