package store

import (
	"fmt"

	"gridward/pkg/platform/sentinel"
)

func notFound(what, key string) error {
	return fmt.Errorf("%s %q: %w", what, key, sentinel.ErrNotFound)
}
