package mqtt

import (
	"strings"
)

// TopicPrefix is the root of every ESPLEDS topic.
const TopicPrefix = "espleds"

// Topic segments below TopicPrefix.
const (
	segmentDevices  = "devices"
	segmentPresence = "presence"
	segmentState    = "state"
	segmentCommand  = "command"
	segmentHealth   = "health"
)

// Topics builds the ESPLEDS topic tree:
//
//	espleds/devices                          retained device list
//	espleds/presence/{address}               retained online/offline
//	espleds/state/{address}                  retained settings
//	espleds/command/{address}/{parameter}    inbound writes
//	espleds/health                           retained health, LWT
type Topics struct{}

func join(segments ...string) string {
	return TopicPrefix + "/" + strings.Join(segments, "/")
}

// Devices returns the retained topic carrying the latest device list.
func (Topics) Devices() string { return join(segmentDevices) }

// Presence returns the retained online/offline topic for a device.
func (Topics) Presence(address string) string { return join(segmentPresence, address) }

// State returns the retained settings topic for a device.
func (Topics) State(address string) string { return join(segmentState, address) }

// Command returns the topic a parameter write for a device arrives on.
func (Topics) Command(address, parameter string) string {
	return join(segmentCommand, address, parameter)
}

// Health returns the health topic. It carries the client's LWT and the
// bridge's health documents.
func (Topics) Health() string { return join(segmentHealth) }

// AllCommands returns the filter matching every device command.
func (Topics) AllCommands() string { return join(segmentCommand, "+", "+") }

// ParseCommand splits a command topic into device address and parameter.
// ok is false for any topic not shaped like Command's output.
func (Topics) ParseCommand(topic string) (address, parameter string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != segmentCommand {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// validTopic reports whether topic lies in the ESPLEDS tree. Wildcards are
// only accepted when filter is true (subscriptions).
func validTopic(topic string, filter bool) bool {
	if !strings.HasPrefix(topic, TopicPrefix+"/") {
		return false
	}
	for _, level := range strings.Split(topic, "/") {
		if level == "" {
			return false
		}
		if !filter && strings.ContainsAny(level, "+#") {
			return false
		}
	}
	return true
}
