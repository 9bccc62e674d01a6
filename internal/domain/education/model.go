package education

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// View records that a patient opened an educational content item. Tags are
// copied from the content at read time.
type View struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	ContentID    uuid.UUID `db:"content_id" json:"content_id"`
	ContentTitle string    `db:"title" json:"content_title"`
	Tags         []string  `db:"tags" json:"tags"`
	ViewedAt     time.Time `db:"viewed_at" json:"viewed_at"`
}

// HasAnyTag reports whether the viewed content carries one of the tags.
// Keys of tags must be lower case; content tags are compared case-insensitively.
func (v *View) HasAnyTag(tags map[string]bool) bool {
	for _, t := range v.Tags {
		if tags[strings.ToLower(t)] {
			return true
		}
	}
	return false
}
