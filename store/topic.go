package store

import (
	"fmt"
	"strings"
)

// RecordTopic carries created/updated/deleted events for one record kind.
func RecordTopic(kind Kind) string {
	return fmt.Sprintf("record:%s", kind)
}

// MessagesTopic carries message appends for one parent record.
func MessagesTopic(parentID string) string {
	return fmt.Sprintf("parent:%s:messages", parentID)
}

// NotificationsTopic carries notifications addressed to one actor.
func NotificationsTopic(actorID string) string {
	return fmt.Sprintf("actor:%s:notifications", actorID)
}

type TopicFamily string

const (
	TopicRecords       TopicFamily = "record"
	TopicMessages      TopicFamily = "messages"
	TopicNotifications TopicFamily = "notifications"
)

// ParseTopic splits a topic name into its family and the addressed identifier
// (kind, parent ID or actor ID). ok is false for unrecognised names.
func ParseTopic(topic string) (family TopicFamily, id string, ok bool) {
	parts := strings.Split(topic, ":")
	switch {
	case len(parts) == 2 && parts[0] == "record" && parts[1] != "":
		return TopicRecords, parts[1], true
	case len(parts) == 3 && parts[0] == "parent" && parts[2] == "messages" && parts[1] != "":
		return TopicMessages, parts[1], true
	case len(parts) == 3 && parts[0] == "actor" && parts[2] == "notifications" && parts[1] != "":
		return TopicNotifications, parts[1], true
	}
	return "", "", false
}
