package firestore

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

const (
	usersCollection = "users"

	categoriesField = "pushNotificationCategories"
	locationsField  = "pushNotificationLocations"
	updatedAtField  = "pushNotificationsUpdatedAt"
)

// ProfileStore reads device registrations from the users collection. Each
// user document carries at most one token for the active provider, stored in
// tokenField.
type ProfileStore struct {
	client     *firestore.Client
	tokenField string
	logger     *slog.Logger
}

func NewProfileStore(client *firestore.Client, tokenField string, logger *slog.Logger) *ProfileStore {
	return &ProfileStore{
		client:     client,
		tokenField: tokenField,
		logger:     logger.With("component", "FirestoreProfileStore", "token_field", tokenField),
	}
}

// ListProfiles returns every user with a value in tokenField. A value that is
// not a string comes back as an empty Token so the caller's TokenRule rejects it.
func (s *ProfileStore) ListProfiles(ctx context.Context) ([]notification.Profile, error) {
	iter := s.users().Where(s.tokenField, "!=", nil).Documents(ctx)
	defer iter.Stop()

	profiles := make([]notification.Profile, 0)
	unusable := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &notification.StoreError{Op: "list profiles", Err: fmt.Errorf("firestore iteration failed: %w", err)}
		}

		p := s.decode(doc)
		if p.Token == "" {
			unusable++
		}
		profiles = append(profiles, p)
	}

	if unusable > 0 {
		s.logger.Debug("User records without a usable token", "count", unusable)
	}
	return profiles, nil
}

// GetProfiles loads the given users. Unknown ids and users without a token are
// skipped.
func (s *ProfileStore) GetProfiles(ctx context.Context, userIDs []string) ([]notification.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	refs := make([]*firestore.DocumentRef, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		refs = append(refs, s.users().Doc(id))
	}

	docs, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, &notification.StoreError{Op: "get profiles", Err: err}
	}

	profiles := make([]notification.Profile, 0, len(docs))
	for _, doc := range docs {
		if !doc.Exists() {
			continue
		}
		if p := s.decode(doc); p.Token != "" {
			profiles = append(profiles, p)
		}
	}
	return profiles, nil
}

// RegisterDevice merges the device token and preferences into the user record.
func (s *ProfileStore) RegisterDevice(ctx context.Context, userID string, device notification.Device) error {
	record := map[string]interface{}{
		s.tokenField:    device.Token,
		categoriesField: nonNil(device.Categories),
		locationsField:  nonNil(device.Locations),
		updatedAtField:  firestore.ServerTimestamp,
	}
	if _, err := s.users().Doc(userID).Set(ctx, record, firestore.MergeAll); err != nil {
		return &notification.StoreError{Op: "register device", Err: err}
	}
	return nil
}

// UnregisterDevice removes the token so the user is no longer targeted.
// Preferences are kept for the next registration.
func (s *ProfileStore) UnregisterDevice(ctx context.Context, userID string) error {
	record := map[string]interface{}{
		s.tokenField:   firestore.Delete,
		updatedAtField: firestore.ServerTimestamp,
	}
	if _, err := s.users().Doc(userID).Set(ctx, record, firestore.MergeAll); err != nil {
		return &notification.StoreError{Op: "unregister device", Err: err}
	}
	return nil
}

func (s *ProfileStore) users() *firestore.CollectionRef {
	return s.client.Collection(usersCollection)
}

// decode maps a user document onto a Profile. A token that is not a string
// decodes as empty. Preference fields that are not lists count as "no filter";
// non-string list entries are dropped.
func (s *ProfileStore) decode(doc *firestore.DocumentSnapshot) notification.Profile {
	data := doc.Data()
	token, _ := data[s.tokenField].(string)

	return notification.Profile{
		UserID:              doc.Ref.ID,
		Token:               token,
		CategoryPreferences: stringList(data[categoriesField]),
		LocationPreferences: stringList(data[locationsField]),
	}
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
