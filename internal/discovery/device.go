package discovery

import "time"

// Device is one LED controller seen on the network.
type Device struct {
	// Address is the device's IP and its identity in the registry.
	Address string `json:"address"`

	// Name is the label from the latest beacon. May be empty.
	Name string `json:"name"`

	// LastSeen is when the latest beacon arrived.
	LastSeen time.Time `json:"last_seen"`
}

// DisplayName returns the name, or the address when the name is empty.
func (d Device) DisplayName() string {
	if d.Name == "" {
		return d.Address
	}
	return d.Name
}
