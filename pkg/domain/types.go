package domain

import "time"

type BookStatus string

const (
	StatusDraft     BookStatus = "draft"
	StatusPublished BookStatus = "published"
)

// Collection names used in the document store.
const (
	CollectionBooks    = "books"
	CollectionChapters = "chapters"
	CollectionReviews  = "reviews"
	CollectionUsers    = "users"
	CollectionMessages = "messages"
)

// Identity is the authenticated caller. Every write path requires one.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

type Book struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	AuthorID    string     `json:"authorId"`
	Status      BookStatus `json:"status"`
	CoverImage  string     `json:"coverImage"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Chapter is an ordered sub-unit of a book. Order values are unique per book but
// need not be contiguous.
type Chapter struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Review struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	AuthorID  string    `json:"authorId"`
	Rating    int       `json:"rating"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	ReadingList []string  `json:"readingList"`
	Followers   []string  `json:"followers"`
	Following   []string  `json:"following"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Message struct {
	ID           string    `json:"id"`
	FromID       string    `json:"fromId"`
	ToID         string    `json:"toId"`
	Participants []string  `json:"participants"`
	Thread       string    `json:"thread"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"createdAt"`
}
