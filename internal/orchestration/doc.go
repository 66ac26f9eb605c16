// Package orchestration implements the command handlers that tie storage,
// addons and the RPC server together. Handlers never keep a storage session
// open while a helper runs: they read what they need, close the session, then
// invoke the runner.
package orchestration
