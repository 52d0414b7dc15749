// Package discovery finds ESPLEDS controllers by listening for their UDP
// beacons and keeps a time-bounded registry of the devices that are alive.
//
// Every device broadcasts a beacon to port 12888 every few seconds:
//
//	"ESPLEDS" 0x0C "192.168.1.6|Lamp"
//
// The Registry keys devices by address. Each valid beacon inserts the
// device or refreshes its name and LastSeen. A sweep every 2s removes
// devices whose last beacon is more than 30s old. Malformed datagrams are
// logged at debug level and dropped.
//
// Usage:
//
//	reg := discovery.NewRegistry(discovery.DefaultConfig())
//	reg.SetLogger(logger.With("component", "discovery"))
//	if err := reg.Start(ctx); err != nil {
//	    return err
//	}
//	defer reg.Stop()
//
//	for _, d := range reg.Snapshot() {
//	    fmt.Println(d.Address, d.DisplayName())
//	}
//
// The registry holds no persistent state: after a restart it is empty until
// beacons arrive again.
package discovery
