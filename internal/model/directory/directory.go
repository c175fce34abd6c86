package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a user, photo or bundle does not exist.
var ErrNotFound = errors.New("directory: not found")

// Profile captures the public user fields exposed next to chat messages.
type Profile struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	UserName       string `json:"userName,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// PhotoSummary is the attachment view of a photo message.
type PhotoSummary struct {
	ID        string  `json:"id"`
	Link      string  `json:"link,omitempty"`
	Price     float64 `json:"price,omitempty"`
	CreatedBy string  `json:"createdBy,omitempty"`
}

// BundleSummary is the attachment view of a bundle message.
type BundleSummary struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Price      float64 `json:"price,omitempty"`
	CoverPhoto string  `json:"coverPhoto,omitempty"`
	PhotoCount int     `json:"photoCount,omitempty"`
}

// Directory resolves the marketplace entities referenced by chats.
type Directory interface {
	Profile(ctx context.Context, userID string) (Profile, error)
	Photo(ctx context.Context, photoID string) (PhotoSummary, error)
	Bundle(ctx context.Context, bundleID string) (BundleSummary, error)
}
