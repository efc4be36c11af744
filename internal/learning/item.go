// Package learning maintains the client-side projection of the agent's
// spaced-repetition scheduling state and the typed calls that mutate it.
package learning

import (
	"encoding/json"
	"time"
)

// Operation and push message types exchanged with the agent backend.
const (
	OpGetDue    = "learning.get_due"
	OpGetByType = "learning.get_by_type"
	OpCreate    = "learning.create"
	OpReview    = "learning.review"

	PushItem  = "learning.item"
	PushItems = "learning.items"
)

// Quality grade bounds. Grades are the six SM-2 ordinals, 0 = complete
// blackout through 5 = perfect recall.
const (
	MinQuality = 0
	MaxQuality = 5
)

// Key is the compound identity of a scheduling item.
type Key struct {
	Type string
	ID   string
}

// Item is one spaced-repetition scheduling record. All scheduling fields are
// server-owned; the client only mirrors them. Items are never deleted
// client-side, only superseded by newer server state.
type Item struct {
	ItemType        string     `json:"item_type"`
	ItemID          string     `json:"item_id"`
	Title           string     `json:"title,omitempty"`
	EaseFactor      float64    `json:"ease_factor"`
	RepetitionCount int        `json:"repetition_count"`
	IntervalDays    int        `json:"interval_days"`
	NextReviewAt    *time.Time `json:"next_review_at,omitempty"`
	LastReviewedAt  *time.Time `json:"last_reviewed_at,omitempty"`
	LastQuality     int        `json:"last_quality,omitempty"`
	TotalReviews    int        `json:"total_reviews"`
	IsDue           bool       `json:"is_due"`
}

// Key returns the item's compound identity.
func (i Item) Key() Key {
	return Key{Type: i.ItemType, ID: i.ItemID}
}

// UnmarshalJSON decodes an item, deriving IsDue from next_review_at when the
// server omits the flag. The fallback runs at decode time only, so the cache
// invariant (due set == items flagged due) always holds.
func (i *Item) UnmarshalJSON(data []byte) error {
	type alias Item
	wire := struct {
		*alias
		IsDue *bool `json:"is_due"`
	}{alias: (*alias)(i)}

	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	if wire.IsDue != nil {
		i.IsDue = *wire.IsDue
	} else {
		i.IsDue = i.NextReviewAt != nil && !i.NextReviewAt.After(time.Now())
	}
	return nil
}

// itemsPayload is the payload of learning.items pushes and of responses to
// the bulk fetch operations.
type itemsPayload struct {
	Items     []Item `json:"items"`
	Count     int    `json:"count"`
	DueCount  int    `json:"due_count,omitempty"`
	ItemType  string `json:"item_type,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
