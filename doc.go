// Package fnhost provides the control shell a function host wraps around an
// opaque request handler: admission control, retry with backoff, and a
// health monitor that fails fast under sustained failure.
//
// The central type is Dispatcher[Req, Resp]. Each dispatcher owns its own
// admission controller and health monitor, so independent instances can run
// side by side in one process.
package fnhost
