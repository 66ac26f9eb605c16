// Package command is the in-process command bus of the core.
//
// A Dispatcher maps a command Name onto an ordered, append-only list of
// handlers. Names form a closed set declared in names.go; strings arriving from
// outside the process (notifications, CLI arguments) are validated with Parse
// or FromMethod before they reach the bus.
//
// Dispatch modes:
//   - DispatchSync runs every handler on the calling goroutine. Handler errors
//     and panics are caught, logged, reported once through the Notifier and
//     never returned to the caller.
//   - DispatchAsync never runs a handler. It broadcasts a notification so that
//     whichever process is listening (this one included) reacts through its
//     listener service. It returns immediately.
package command
