// Package httpx exposes an fnhost dispatcher over HTTP and provides a
// Forwarder handler that relays requests to an upstream service.
//
// NewHandler mounts a dispatcher under its route prefix, buffers each
// request body so every attempt can replay it, and maps the dispatcher's
// errors onto status codes. Forwarder classifies upstream status codes so
// that permanent failures stop the retry loop.
package httpx
