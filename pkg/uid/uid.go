package uid

import "github.com/google/uuid"

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a unique identifier whose lexical order follows creation time.
// Falls back to a random identifier if the clock source fails.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}
