package event

// Subscription names the events a connection wants to receive. An empty
// RoomIDs slice means "any room"; an empty UserID means "any user".
type Subscription struct {
	EventTypes []string       `json:"event_types"`
	RoomIDs    []string       `json:"room_ids,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Priority   Priority       `json:"priority"`
	Filters    map[string]any `json:"filters,omitempty"`
}

// Matches reports whether the event satisfies the subscription. A filter key
// absent from the event payload matches vacuously; only a present key with a
// different value disqualifies.
func (s Subscription) Matches(e Event) bool {
	if !contains(s.EventTypes, e.Type) {
		return false
	}

	if len(s.RoomIDs) > 0 && !contains(s.RoomIDs, e.RoomID) {
		return false
	}

	if s.UserID != "" && e.UserID != s.UserID {
		return false
	}

	for key, want := range s.Filters {
		if got, ok := e.Data[key]; ok && got != want {
			return false
		}
	}

	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
