// Package livestream serves session telemetry to browser and script
// clients over websockets.
//
// Every capture event is sent as a JSON Message. Clients change settings
// by sending
//
//	{"type":"set","name":"GAIN","value":3}
//
// which is answered with an "ack" or "nack" message. Updates are rate
// limited per client. GET /api/settings returns the current setting
// snapshot, and the service can be advertised over mDNS as _probeplot._tcp.
package livestream
