// Package events carries agent registry changes to downstream workers such as
// a Telegram bot. A Queue is both publisher and consumer; drivers are an
// in-process channel, a Redis list and a RabbitMQ queue.
package events
