package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Users is a thin directory from user id to display name, refreshed on
// every authenticated request. The full user record (credentials,
// profile, avatars) lives in an external service; game results only
// need a name to attach to scoreboard rows.
type Users struct {
	rdb *redis.Client
}

func NewUsers(rdb *redis.Client) *Users {
	return &Users{rdb: rdb}
}

const usernamesKey = "usernames"

func (u *Users) SetUsername(ctx context.Context, userID, username string) error {
	if username == "" {
		return nil
	}
	if err := u.rdb.HSet(ctx, usernamesKey, userID, username).Err(); err != nil {
		return fmt.Errorf("set username %s: %w", userID, err)
	}
	return nil
}

// Usernames resolves display names for the given ids; unknown ids are
// simply absent from the result.
func (u *Users) Usernames(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}
	vals, err := u.rdb.HMGet(ctx, usernamesKey, userIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("usernames: %w", err)
	}
	names := make(map[string]string, len(userIDs))
	for i, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			names[userIDs[i]] = s
		}
	}
	return names, nil
}
