//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/stockledger/internal/repository/storetest"
)

func TestStoreContract(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := NewPostgresRepository(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close(context.Background())
	})

	storetest.Run(t, repo)
}
