// Package api implements the relayd HTTP REST API.
//
// # Endpoints
//
//	GET    /api/v1/health
//	GET    /api/v1/relays
//	POST   /api/v1/relays                    {"number","pin","channel","label"}
//	POST   /api/v1/relays/on|off             {"numbers":[...]}
//	GET    /api/v1/relays/{number}
//	PATCH  /api/v1/relays/{number}           {"pin"?,"channel"?,"label"?}
//	DELETE /api/v1/relays/{number}
//	GET    /api/v1/relays/{number}/status
//	POST   /api/v1/relays/{number}/on|off
//	POST   /api/v1/relays/{number}/refresh
//	GET    /api/v1/relays/{number}/history?limit=N
//	GET    /metrics                          Prometheus exposition
//
// A command returns 200 only when the radio confirmed delivery. The relay's
// status changes later, when the board reports its monitor channel.
//
// # Errors
//
// Errors use a single JSON shape, {"status","code","message"}. Relay
// errors map to: 409 duplicate number, 404 unknown number, 400 invalid
// label, pin or channel, 413 command payload too large, 501 unsupported,
// 502 transport fault, 504 not delivered.
//
// # Middleware
//
// Request ID (X-Request-ID or a generated UUID), request logging,
// Prometheus request metrics, panic recovery, CORS, a 64 KB body limit and,
// under /api/v1, a shared token-bucket rate limit.
package api
