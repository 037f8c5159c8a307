package domain

import "time"

// RelationshipChange is one timestamped sentiment adjustment.
type RelationshipChange struct {
	Description     string
	SentimentChange float64
	At              time.Time
}

// Relationship tracks one character's sentiment toward another.
// Sentiment stays in [-1, 1].
type Relationship struct {
	FromCharacter string
	ToCharacter   string
	Kind          string
	Sentiment     float64
	History       []RelationshipChange
}

// NewRelationship returns a neutral relationship between two characters.
func NewRelationship(from, to string) Relationship {
	return Relationship{FromCharacter: from, ToCharacter: to, Kind: "acquaintance"}
}

// Adjust applies a sentiment delta, clamps the result to [-1, 1], and
// appends a history entry.
func (r *Relationship) Adjust(delta float64, reason string, at time.Time) {
	r.Sentiment += delta
	if r.Sentiment > 1 {
		r.Sentiment = 1
	}
	if r.Sentiment < -1 {
		r.Sentiment = -1
	}
	r.History = append(r.History, RelationshipChange{
		Description:     reason,
		SentimentChange: delta,
		At:              at,
	})
}
