package store

import (
	"context"
	"fmt"
	"log"
)

// Bootstrap creates the webhook tables when missing.
func (s *Store) Bootstrap(ctx context.Context) error {
	exists, err := s.Dialect.TableExists(ctx, s.DB, "_webhook_subscriptions")
	if err != nil {
		return fmt.Errorf("check webhook tables: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap webhook tables: %w", err)
	}
	if !exists {
		log.Printf("Created webhook tables (%s)", s.Dialect.Name())
	}
	return nil
}
