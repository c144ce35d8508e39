package models

// DraftAction is one applied intent as it travels from a host to the historian.
type DraftAction struct {
	RoomID     string                 `json:"room_id"`
	Version    int64                  `json:"version"`
	ActorID    string                 `json:"actor_id"`
	IntentKind string                 `json:"intent_kind"`
	Payload    map[string]interface{} `json:"payload"`
	Status     string                 `json:"status"`
	Checksum   uint64                 `json:"checksum"`
	Timestamp  int64                  `json:"timestamp"`
}
