package models

import (
	"fmt"
	"time"
)

// Feedback is the record sent to the backend for a rating or a free-text comment. A rating may be sent
// alone with an empty comment, while a comment carries whatever rating was last set for the message.
type Feedback struct {
	Vote    Vote   `json:"vote"`
	Comment string `json:"comment"`
}

// StoredFeedback is a feedback record as kept by the stand-in backend.
type StoredFeedback struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Vote           Vote      `json:"vote"`
	Comment        string    `json:"comment"`
	Timestamp      time.Time `json:"timestamp"`
}

// Vote is the wire representation of a rating.
type Vote string

// Rating is the local tri-state rating of a message.
type Rating string

const (
	// VotePositive is sent for a thumbs-up rating.
	VotePositive Vote = "positive"
	// VoteNegative is sent for a thumbs-down rating.
	VoteNegative Vote = "negative"
	// VoteNotSpecified is sent with a comment on a message that carries no rating.
	VoteNotSpecified Vote = "not_specified"

	// RatingNone means the message is not rated.
	RatingNone Rating = ""
	// RatingUp is a thumbs-up.
	RatingUp Rating = "thumbs-up"
	// RatingDown is a thumbs-down.
	RatingDown Rating = "thumbs-down"
)

// Vote converts the rating into its wire vote.
func (r Rating) Vote() Vote {
	switch r {
	case RatingUp:
		return VotePositive
	case RatingDown:
		return VoteNegative
	default:
		return VoteNotSpecified
	}
}

// ParseRating parses the rating names used by the rating controls.
func ParseRating(s string) (Rating, error) {
	switch Rating(s) {
	case RatingUp, RatingDown:
		return Rating(s), nil
	default:
		return RatingNone, fmt.Errorf("unknown rating %q", s)
	}
}

// Valid reports whether v is one of the known votes.
func (v Vote) Valid() bool {
	switch v {
	case VotePositive, VoteNegative, VoteNotSpecified:
		return true
	default:
		return false
	}
}
