package models

import "time"

// User is the payout profile of a registered recipient. Registration and
// profile editing belong to another service; this one only reads the row
// and stores the payout address.
type User struct {
	ID       string
	UserName string
	// PayoutAddress is empty until the recipient registers one.
	PayoutAddress string
	CreatedAt     time.Time
}

// Post is the reference to a social-media post that tips are attached to.
type Post struct {
	ID       string
	AuthorID string
}
