// Package api exposes the dashboard over a JSON REST interface: wallet
// session, agent registry, mock login and the recent notification list, plus
// the Prometheus endpoint.
package api
