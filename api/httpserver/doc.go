// Package httpserver provides the HTTP server shared by every networked
// component of the sorting cluster.
//
// BaseServer wires a chi router with request IDs, real-IP detection and panic
// recovery, mounts the routes of each RouteRegistrar it is given and adds:
//
//   - /livez: liveness probe
//   - /readyz: readiness probe, flipped by SetReady and on Shutdown
//   - /debug/pprof: when EnablePprof is set
//
// Request logging goes through go-utils' httplogger on the health routes.
// When MetricsAddr is set a separate prometheus server is started next to
// the API server.
//
// A server normally binds on RunInBackground. Listen binds earlier, which lets
// callers configure port 0 and read the chosen port back with Addr before
// handing the address to peers:
//
//	srv, _ := httpserver.New(&httpserver.HTTPServerConfig{ListenAddr: "127.0.0.1:0", Log: log}, handler)
//	if err := srv.Listen(); err != nil { ... }
//	peers[rank] = "http://" + srv.Addr()
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
