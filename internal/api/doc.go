// Package api implements the HTTP REST API and WebSocket server.
//
// This package provides:
//   - REST endpoints listing discovered LED controllers and reading or
//     writing their settings
//   - A WebSocket hub broadcasting device list and settings changes
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server reads the discovery registry for presence and routes writes
// through the controller manager, which coalesces them per parameter. A PUT
// returns 202 as soon as the intended value is recorded; the device's echo
// arrives on the device.settings_changed WebSocket channel.
//
// The Hub is wired as a poller subscriber (devices.updated) and as the
// controller listener (device.settings_changed), so it usually exists
// before the server and is passed in through Deps.ExternalHub:
//
//	hub := api.NewHub(cfg.WebSocket, log)
//	go hub.Run(ctx)
//	server, err := api.New(api.Deps{ExternalHub: hub, ...})
//	server.Start(ctx)
//	defer server.Close()
//
// # Graceful Degradation
//
// Write history and MQTT bridge statistics are optional. Without a history
// repository the history endpoint answers 503; everything else works.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
