package mqtt

import (
	"strconv"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "relay"

// BatchTarget is the address segment used for multi-relay commands and acks.
const BatchTarget = "batch"

// Topics builds relayd topic names under a prefix.
//
//	topics := mqtt.NewTopics("relay")
//	topics.Command(7) // "relay/command/7"
//	topics.State(7)   // "relay/state/7"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders for prefix. Leading and trailing
// slashes are dropped; an empty prefix becomes DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	return t.prefixOrDefault()
}

func (t Topics) prefixOrDefault() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

func (t Topics) join(parts ...string) string {
	return t.prefixOrDefault() + "/" + strings.Join(parts, "/")
}

// Command returns the command topic for one relay.
//
// Example: relay/command/7
func (t Topics) Command(number int) string {
	return t.join("command", strconv.Itoa(number))
}

// CommandBatch returns the topic for multi-relay commands.
//
// Example: relay/command/batch
func (t Topics) CommandBatch() string {
	return t.join("command", BatchTarget)
}

// AllCommands matches single and batch command topics.
//
// Pattern: relay/command/+
func (t Topics) AllCommands() string {
	return t.join("command", "+")
}

// Ack returns the acknowledgement topic for a command target, either a
// relay number or BatchTarget.
//
// Example: relay/ack/7
func (t Topics) Ack(target string) string {
	return t.join("ack", target)
}

// State returns the retained state topic for one relay.
//
// Example: relay/state/7
func (t Topics) State(number int) string {
	return t.join("state", strconv.Itoa(number))
}

// AllStates matches every relay state topic.
//
// Pattern: relay/state/+
func (t Topics) AllStates() string {
	return t.join("state", "+")
}

// Health returns the retained service health topic. The Last Will is
// published here too.
//
// Example: relay/health
func (t Topics) Health() string {
	return t.join("health")
}

// CommandTarget extracts the last segment of a command topic: a relay
// number or BatchTarget. ok is false for topics outside the command tree.
func (t Topics) CommandTarget(topic string) (target string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.join("command")+"/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
