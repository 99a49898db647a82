package anchor

// EventType marks progress through an ingestion.
type EventType int

const (
	EventTypeUnknown          EventType = 0
	EventTypeHashVerified     EventType = 1
	EventTypeContentStored    EventType = 2
	EventTypeAddressAllocated EventType = 3
	EventTypePayloadEncoded   EventType = 4
	EventTypeSubmitted        EventType = 5
	EventTypeRecordsCached    EventType = 6
)

var eventTypeNames = map[EventType]string{
	EventTypeUnknown:          "unknown",
	EventTypeHashVerified:     "hash_verified",
	EventTypeContentStored:    "content_stored",
	EventTypeAddressAllocated: "address_allocated",
	EventTypePayloadEncoded:   "payload_encoded",
	EventTypeSubmitted:        "submitted",
	EventTypeRecordsCached:    "records_cached",
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return eventTypeNames[EventTypeUnknown]
}

// Event is sent to IngestStream observers.
type Event struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	ContentID string    `json:"content_id,omitempty"`
	RecordID  string    `json:"record_id,omitempty"`
}
