package protocol

import (
	"fmt"
	"strings"
)

const topicRoot = "camera"

// DownlinkTopic is the topic a camera subscribes to for commands.
func DownlinkTopic(namespace, deviceID string) string {
	return topicRoot + "/" + namespace + "/" + deviceID + "/master"
}

// UplinkTopic is the topic a camera publishes its reports on.
func UplinkTopic(namespace, deviceID string) string {
	return topicRoot + "/" + namespace + "/" + deviceID + "/device"
}

// UplinkFilter matches the uplink topic of every camera in a namespace.
func UplinkFilter(namespace string) string {
	return UplinkTopic(namespace, "+")
}

// ParseUplinkTopic extracts the device ID from camera/<ns>/<id>/device.
func ParseUplinkTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != topicRoot || parts[3] != "device" {
		return "", fmt.Errorf("unexpected uplink topic %q", topic)
	}
	if err := ValidateDeviceID(parts[2]); err != nil {
		return "", err
	}
	return parts[2], nil
}

// ValidateDeviceID rejects IDs that cannot be used as a single topic level.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("empty device id")
	}
	if strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("device id %q contains topic separator or wildcard", id)
	}
	return nil
}
