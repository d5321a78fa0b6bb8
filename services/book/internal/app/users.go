package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"inkwell/pkg/domain"
	"inkwell/pkg/editor"
	"inkwell/pkg/store"
)

const placeholderPrefix = "reader-"

func userRef(id string) store.Ref {
	return store.Doc(domain.CollectionUsers, id)
}

func placeholderName(userID string) string {
	id := strings.ReplaceAll(userID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return placeholderPrefix + id
}

func isPlaceholder(name string) bool {
	return name == "" || strings.HasPrefix(name, placeholderPrefix)
}

func decodeUser(doc store.Document) (domain.User, error) {
	var u domain.User
	if err := doc.DataTo(&u); err != nil {
		return domain.User{}, err
	}
	if u.ReadingList == nil {
		u.ReadingList = []string{}
	}
	if u.Followers == nil {
		u.Followers = []string{}
	}
	if u.Following == nil {
		u.Following = []string{}
	}
	return u, nil
}

// GetUser returns a profile, ErrUserNotFound when there is none.
func (a *App) GetUser(ctx context.Context, userID string) (domain.User, error) {
	doc, err := a.store.Get(ctx, userRef(userID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return decodeUser(doc)
}

// EnsureUser creates the caller's profile on first sight. The identity's
// display name is used when it is free, otherwise a placeholder; a profile
// still on the placeholder picks up the identity name once it becomes free.
func (a *App) EnsureUser(ctx context.Context, id domain.Identity) (domain.User, error) {
	if id.UserID == "" {
		return domain.User{}, editor.ErrNoIdentity
	}
	desired := strings.TrimSpace(id.DisplayName)
	u, err := a.GetUser(ctx, id.UserID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		name := placeholderName(id.UserID)
		if desired != "" {
			if taken, err := a.nameTaken(ctx, desired, id.UserID); err == nil && !taken {
				name = desired
			}
		}
		err := a.store.Set(ctx, userRef(id.UserID), map[string]any{
			"displayName": name,
			"photoURL":    "",
			"readingList": []any{},
			"followers":   []any{},
			"following":   []any{},
			"createdAt":   store.ServerTimestamp,
			"updatedAt":   store.ServerTimestamp,
		})
		if err != nil {
			return domain.User{}, fmt.Errorf("create user: %w", err)
		}
		return a.GetUser(ctx, id.UserID)
	case err != nil:
		return domain.User{}, err
	}

	if isPlaceholder(u.DisplayName) && desired != "" && desired != u.DisplayName {
		taken, err := a.nameTaken(ctx, desired, id.UserID)
		if err != nil || taken {
			return u, nil
		}
		if err := a.store.Update(ctx, userRef(id.UserID), map[string]any{
			"displayName": desired,
			"updatedAt":   store.ServerTimestamp,
		}); err != nil {
			return u, nil
		}
		u.DisplayName = desired
	}
	return u, nil
}

// nameTaken is a pre-write check only; two users racing for one name can
// both pass it.
func (a *App) nameTaken(ctx context.Context, name, self string) (bool, error) {
	docs, err := a.store.Query(ctx, store.Query{
		Collection: domain.CollectionUsers,
		Filters:    []store.Filter{store.Where("displayName", name)},
		Limit:      2,
	})
	if err != nil {
		return false, err
	}
	for _, d := range docs {
		if d.Ref.ID != self {
			return true, nil
		}
	}
	return false, nil
}

// ProfileUpdate holds the fields PATCH /me may change.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
}

func (a *App) UpdateProfile(ctx context.Context, id domain.Identity, upd ProfileUpdate) (domain.User, error) {
	if _, err := a.EnsureUser(ctx, id); err != nil {
		return domain.User{}, err
	}
	fields := map[string]any{}
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if n := utf8.RuneCountInString(name); n < 3 || n > 40 {
			return domain.User{}, &editor.ValidationError{Field: "displayName", Err: ErrInvalidName}
		}
		taken, err := a.nameTaken(ctx, name, id.UserID)
		if err != nil {
			return domain.User{}, err
		}
		if taken {
			return domain.User{}, ErrDisplayNameTaken
		}
		fields["displayName"] = name
	}
	if upd.PhotoURL != nil {
		fields["photoURL"] = strings.TrimSpace(*upd.PhotoURL)
	}
	if len(fields) > 0 {
		fields["updatedAt"] = store.ServerTimestamp
		if err := a.store.Update(ctx, userRef(id.UserID), fields); err != nil {
			return domain.User{}, fmt.Errorf("update profile: %w", err)
		}
	}
	return a.GetUser(ctx, id.UserID)
}

// AddToReadingList bookmarks a published book. Adding twice is a no-op.
func (a *App) AddToReadingList(ctx context.Context, id domain.Identity, bookID string) (domain.User, error) {
	book, err := a.loadBook(ctx, bookID)
	if err != nil {
		return domain.User{}, err
	}
	if book.Status != domain.StatusPublished {
		return domain.User{}, ErrBookNotPublished
	}
	u, err := a.EnsureUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if slices.Contains(u.ReadingList, bookID) {
		return u, nil
	}
	list := append(slices.Clone(u.ReadingList), bookID)
	if err := a.store.Update(ctx, userRef(id.UserID), map[string]any{
		"readingList": list,
		"updatedAt":   store.ServerTimestamp,
	}); err != nil {
		return domain.User{}, fmt.Errorf("update reading list: %w", err)
	}
	return a.GetUser(ctx, id.UserID)
}

func (a *App) RemoveFromReadingList(ctx context.Context, id domain.Identity, bookID string) (domain.User, error) {
	u, err := a.EnsureUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !slices.Contains(u.ReadingList, bookID) {
		return u, nil
	}
	if err := a.store.Update(ctx, userRef(id.UserID), map[string]any{
		"readingList": without(u.ReadingList, bookID),
		"updatedAt":   store.ServerTimestamp,
	}); err != nil {
		return domain.User{}, fmt.Errorf("update reading list: %w", err)
	}
	return a.GetUser(ctx, id.UserID)
}

// Follow records the edge on both profiles in one batch.
func (a *App) Follow(ctx context.Context, id domain.Identity, targetID string) (domain.User, error) {
	return a.setFollow(ctx, id, targetID, true)
}

func (a *App) Unfollow(ctx context.Context, id domain.Identity, targetID string) (domain.User, error) {
	return a.setFollow(ctx, id, targetID, false)
}

func (a *App) setFollow(ctx context.Context, id domain.Identity, targetID string, follow bool) (domain.User, error) {
	if targetID == id.UserID {
		return domain.User{}, &editor.ValidationError{Field: "userId", Err: ErrSelfFollow}
	}
	me, err := a.EnsureUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	target, err := a.GetUser(ctx, targetID)
	if err != nil {
		return domain.User{}, err
	}
	if slices.Contains(me.Following, targetID) == follow {
		return me, nil
	}
	following, followers := without(me.Following, targetID), without(target.Followers, id.UserID)
	if follow {
		following = append(following, targetID)
		followers = append(followers, id.UserID)
	}
	b := a.store.Batch()
	b.Update(userRef(id.UserID), map[string]any{"following": following, "updatedAt": store.ServerTimestamp})
	b.Update(userRef(targetID), map[string]any{"followers": followers, "updatedAt": store.ServerTimestamp})
	if err := b.Commit(ctx); err != nil {
		return domain.User{}, fmt.Errorf("update follow: %w", err)
	}
	return a.GetUser(ctx, id.UserID)
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, it := range list {
		if it != v {
			out = append(out, it)
		}
	}
	return out
}
