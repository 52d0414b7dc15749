// Package control is the typed client for the ESPLEDS per-device HTTP
// control protocol.
//
// Each device serves one plain-text resource per setting:
//
//	GET /brightness       -> "128"
//	PUT /brightness "300" -> "255"   (the device clamps and echoes)
//
// Resources: /brightness (0..255), /frame-duration (5..1000 ms),
// /hue-per-pixel and /hue-per-frame (signed byte), /name (up to 32 bytes).
//
// Every request carries a timeout (1s by default). Errors wrap one of
// ErrConnection, ErrParse, ErrInvalidValue or ErrUnknownParameter. Put
// validates before sending and retries connection failures with
// exponential backoff; Get is never retried. Refresh reads all five
// parameters in parallel and substitutes defaults for any that fail, so
// callers always get usable Settings.
package control
