package discovery

import (
	"bytes"
	"fmt"
	"strings"
)

// BeaconPrefix starts every beacon datagram.
const BeaconPrefix = "ESPLEDS"

// maxPayload is the most the single length byte can describe.
const maxPayload = 255

// Beacon is the announcement a device broadcasts every few seconds.
//
// Wire format:
//
//	"ESPLEDS" | L (1 byte, unsigned) | L bytes of "<address>|<name>"
//
// Bytes after the payload are ignored, except when the length byte is too
// small to cover a valid payload (see ParseBeacon).
type Beacon struct {
	Address string
	Name    string
}

// ParseBeacon decodes one datagram. Every failure wraps ErrMalformedBeacon.
func ParseBeacon(data []byte) (Beacon, error) {
	header := len(BeaconPrefix) + 1
	if len(data) < header {
		return Beacon{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedBeacon, len(data))
	}
	if !bytes.HasPrefix(data, []byte(BeaconPrefix)) {
		return Beacon{}, fmt.Errorf("%w: missing %s prefix", ErrMalformedBeacon, BeaconPrefix)
	}

	length := int(data[len(BeaconPrefix)])
	if header+length > len(data) {
		return Beacon{}, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrMalformedBeacon, length, len(data)-header)
	}

	b, err := parsePayload(string(data[header : header+length]))
	if err == nil {
		return b, nil
	}

	// Some firmware builds miscount the length byte. When the declared
	// payload is unusable but more bytes follow, try the whole remainder.
	if rest := bytes.TrimRight(data[header:], "\x00"); len(rest) > length {
		if b, restErr := parsePayload(string(rest)); restErr == nil {
			return b, nil
		}
	}
	return Beacon{}, err
}

func parsePayload(payload string) (Beacon, error) {
	fields := strings.Split(payload, "|")
	if len(fields) != 2 {
		return Beacon{}, fmt.Errorf("%w: payload %q has %d fields, want 2", ErrMalformedBeacon, payload, len(fields))
	}
	if fields[0] == "" {
		return Beacon{}, fmt.Errorf("%w: empty address", ErrMalformedBeacon)
	}
	return Beacon{Address: fields[0], Name: fields[1]}, nil
}

// MarshalBinary encodes the beacon in wire format.
func (b Beacon) MarshalBinary() ([]byte, error) {
	payload := b.Address + "|" + b.Name
	if len(payload) > maxPayload {
		return nil, ErrPayloadTooLong
	}
	out := make([]byte, 0, len(BeaconPrefix)+1+len(payload))
	out = append(out, BeaconPrefix...)
	out = append(out, byte(len(payload)))
	out = append(out, payload...)
	return out, nil
}
