// Package controller reconciles what the user wants a device to do with
// what the device has actually accepted.
//
// A Controller holds the intended settings for one device. Send updates
// them immediately, so a UI always reflects the user's last gesture, and
// hands the value to that parameter's coalescing dispatcher, which writes
// only the newest value once the previous write has finished. Failed
// writes are logged and recorded but never roll the intended value back.
//
// The Manager keeps one Controller per address and retires controllers of
// devices the discovery registry has evicted.
package controller
