// Package api exposes the ledger over HTTP.
//
//	POST /api/transfers          send value with a note
//	GET  /api/transfers          full history and count from one snapshot
//	GET  /api/transfers/count    record count
//	GET  /api/accounts/{address} account balance
//	GET  /api/events             WebSocket stream of committed transfers
//	GET  /api/health             liveness
//
// Errors use the same envelope as the CLI's JSON output:
//
//	{"status":"error","error":{"code":"VALUE_MISMATCH","message":"..."}}
package api
