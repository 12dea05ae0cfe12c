package events

// Topic is one of the closed set of event kinds the server emits.
type Topic int

const (
	TopicUnknown Topic = iota
	TopicConnection
	TopicTransmissionStarted
	TopicTransmissionCompleted
	TopicTransmissionFailed
	TopicTransmissionPaused
	TopicTransmissionResumed
	TopicDeviceStatusChanged
	TopicConnectionStatusChanged
)

var topicNames = map[Topic]string{
	TopicConnection:              "connection",
	TopicTransmissionStarted:     "transmission_started",
	TopicTransmissionCompleted:   "transmission_completed",
	TopicTransmissionFailed:      "transmission_failed",
	TopicTransmissionPaused:      "transmission_paused",
	TopicTransmissionResumed:     "transmission_resumed",
	TopicDeviceStatusChanged:     "device_status_changed",
	TopicConnectionStatusChanged: "connection_status_changed",
}

var topicsByName = func() map[string]Topic {
	out := make(map[string]Topic, len(topicNames))
	for topic, name := range topicNames {
		out[name] = topic
	}
	return out
}()

// ParseTopic maps a wire name to its Topic. Unrecognized names map to
// TopicUnknown.
func ParseTopic(name string) Topic {
	if topic, ok := topicsByName[name]; ok {
		return topic
	}
	return TopicUnknown
}

func (t Topic) String() string {
	if name, ok := topicNames[t]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether t is part of the closed topic set.
func (t Topic) Known() bool {
	_, ok := topicNames[t]
	return ok
}

// TransmissionTopics lists every topic describing a device transmission change.
func TransmissionTopics() []Topic {
	return []Topic{
		TopicTransmissionStarted,
		TopicTransmissionCompleted,
		TopicTransmissionFailed,
		TopicTransmissionPaused,
		TopicTransmissionResumed,
		TopicDeviceStatusChanged,
	}
}

// AllTopics returns the closed topic set.
func AllTopics() []Topic {
	return []Topic{
		TopicConnection,
		TopicTransmissionStarted,
		TopicTransmissionCompleted,
		TopicTransmissionFailed,
		TopicTransmissionPaused,
		TopicTransmissionResumed,
		TopicDeviceStatusChanged,
		TopicConnectionStatusChanged,
	}
}
