package testing

import (
	"context"

	"social-backend/internal/storage"
)

// SeedUsers inserts n users with random account tags in a single transaction and returns their ids
func SeedUsers(ctx context.Context, backend storage.Backend, n int) ([]int64, error) {
	tx, err := backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		u := storage.User{
			AccountTag:  RandString(10),
			Preferences: storage.Preferences{DisplayName: RandString(6)},
		}
		if err := tx.InsertUser(ctx, &u); err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)
	}
	return ids, tx.Commit(ctx)
}
