// Package history keeps an audit trail of parameter writes sent to devices.
//
// Every write the controller performs, whether the device accepted it or
// the request failed after retries, becomes one Entry. The trail lives in
// SQLite (table parameter_history) and is exposed through the REST API so a
// UI can show what was last sent to a device and when it failed.
package history
