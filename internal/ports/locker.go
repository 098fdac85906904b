package ports

import "context"

// Locker hands out short-lived exclusive locks by key.
type Locker interface {
	// TryLock does not wait. When acquired is false another holder owns key.
	TryLock(ctx context.Context, key string) (unlock func(), acquired bool, err error)
}
