// Package httputil holds the JSON request/response helpers shared by
// all handlers, so every endpoint speaks the same {"detail": "..."}
// error envelope.
package httputil
