package store

import "strings"

// Key namespaces. Every key written by this module lives under one of these,
// plus the configured prefix, so unrelated data in a shared Redis is never
// touched.
const (
	callKeyPrefix       = "metrics:call:"
	completedListKey    = "metrics:completed"
	transcriptKeyPrefix = "transcript:room:"

	CallKeyPattern       = callKeyPrefix + "*"
	TranscriptKeyPattern = transcriptKeyPrefix + "*"
)

// CallKey returns the snapshot key for a call.
func CallKey(callID string) string {
	return callKeyPrefix + callID
}

// CompletedListKey returns the capped list key holding completed-call snapshots.
func CompletedListKey() string {
	return completedListKey
}

// TranscriptKey returns the list key holding a room's transcript turns.
func TranscriptKey(roomID string) string {
	return transcriptKeyPrefix + roomID
}

// CallIDFromKey extracts the call id from a metrics call key, "" if the key
// is not in the namespace.
func CallIDFromKey(key string) string {
	if !strings.HasPrefix(key, callKeyPrefix) {
		return ""
	}
	return strings.TrimPrefix(key, callKeyPrefix)
}

// RoomIDFromKey extracts the room id from a transcript key, "" if the key is
// not in the namespace.
func RoomIDFromKey(key string) string {
	if !strings.HasPrefix(key, transcriptKeyPrefix) {
		return ""
	}
	return strings.TrimPrefix(key, transcriptKeyPrefix)
}

// isTranscriptKey reports whether a logical key belongs to the transcript
// namespace (stored in its own Redis DB).
func isTranscriptKey(key string) bool {
	return strings.HasPrefix(key, "transcript:")
}
