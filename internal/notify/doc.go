// Package notify is the cross-process notification channel shared by the core
// and its helper processes.
//
// A notification is a (sender, method, data) triple. Inside the core process
// notifications flow through a Hub; other processes deliver them over a
// loopback HTTP receiver (Server) using a Client. The listener service
// subscribes to the Hub and turns notifications into dispatched commands.
//
// # Wire format
//
//	POST /notify
//	{"sender": "plugin.program.akl", "method": "Other.scan_roms", "data": {...}}
//
// Responses:
//
// - 202 Accepted: notification published
// - 400 Bad Request: body is not a notification or sender/method missing
// - 413 Payload Too Large: body exceeds max_body_size
//
// There is no authentication; the receiver must only bind loopback addresses.
package notify
