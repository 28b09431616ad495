// Package http_reporter provides an HTTP handler for exposing completed
// stack-sampling profiles in JSON format. It's intended to be polled by a
// telemetry pipeline that drains the default profile store.
//
// The package implements the standard http.Handler interface and can be
// mounted on any HTTP router or used with the standard library's http package.
package http_reporter
