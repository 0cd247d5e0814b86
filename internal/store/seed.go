package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/eldtechnologies/sensechat/internal/models"
)

type usersFile struct {
	Users []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Language    string `json:"language"`
		StylePreset string `json:"style_preset"`
	} `json:"users"`
}

// SeedUsers upserts the users listed in a JSON file of the form
// {"users": [{"id", "name", "language", "style_preset"}]}. It returns the
// number of users written.
func SeedUsers(ctx context.Context, ds DataStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read users file: %w", err)
	}

	var file usersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse users file: %w", err)
	}

	n := 0
	for _, u := range file.Users {
		if u.ID == "" {
			continue
		}
		user := &models.User{
			ID:          u.ID,
			Name:        u.Name,
			Language:    u.Language,
			StylePreset: u.StylePreset,
		}
		if user.Name == "" {
			user.Name = u.ID
		}
		if user.Language == "" {
			user.Language = "ja"
		}
		if user.StylePreset == "" {
			user.StylePreset = "casual"
		}
		if err := ds.UpsertUser(ctx, user); err != nil {
			return n, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		n++
	}
	return n, nil
}
