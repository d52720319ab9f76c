// Package gobwt is a personal bitcoin wallet tracker built on Bitcoin
// Core: it imports the addresses of configured xpubs as watch-only wallet
// entries, indexes their activity through the node's wallet RPCs, and
// serves the result over the Electrum protocol, a REST API with SSE and
// websocket streams, and webhook notifications.
//
// The package is designed for embedding. Start boots a session from a JSON
// configuration and streams lifecycle notifications to a callback;
// Shutdown tears it down again. The libbwt subpackage exposes the same
// surface as a C ABI for non-Go embedders, and cmd/bwtd wraps it in a
// standalone daemon.
package gobwt
