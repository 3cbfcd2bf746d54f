package timeline

import (
	"encoding/json"
	"fmt"
)

// Serialize encodes the timeline into the snapshot wire format consumed by
// the persistence layer and the export pipeline.
func (t *Timeline) Serialize() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to serialize invalid timeline: %w", err)
	}
	return json.Marshal(t)
}

// Deserialize decodes a snapshot produced by Serialize and validates it.
func Deserialize(data []byte) (*Timeline, error) {
	var t Timeline
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode timeline snapshot: %w", err)
	}
	// Older snapshots may omit segment track IDs; restore them from position.
	for ti := range t.Tracks {
		for si := range t.Tracks[ti].Segments {
			if t.Tracks[ti].Segments[si].TrackID == "" {
				t.Tracks[ti].Segments[si].TrackID = t.Tracks[ti].ID
			}
		}
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timeline snapshot: %w", err)
	}
	return &t, nil
}
