package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	ImageURL     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Author is the subset of User resolved onto question payloads.
type Author struct {
	ID       string
	Name     string
	ImageURL string
}

type Question struct {
	ID        string
	Title     string
	Content   string
	AuthorID  string
	Views     int
	Answers   int
	Upvotes   int
	Downvotes int
	CreatedAt time.Time
	UpdatedAt time.Time

	// Resolved on reads; empty on bare loads inside a transaction.
	Author Author
	Tags   []Tag
}

type Tag struct {
	ID   string
	Name string
	// Questions is the usage counter: the number of live join rows
	// referencing this tag.
	Questions int
}

// ListQuery describes a filtered, paginated question fetch.
type ListQuery struct {
	Search        string
	Unanswered    bool
	SortByUpvotes bool
	Limit         int
	Offset        int
}
