package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/sqlite"
	"github.com/xraph/entitle/store/storetest"
	"github.com/xraph/entitle/token"
)

// openStore returns a migrated store on a fresh database file. Writers
// wait on the lock instead of failing with SQLITE_BUSY.
func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	sdb := sqlitedriver.New()
	dsn := "file:" + filepath.Join(t.TempDir(), "entitle.db") + "?_pragma=busy_timeout(5000)&_txlock=immediate"
	require.NoError(t, sdb.Open(ctx, dsn))

	db, err := grove.Open(sdb)
	require.NoError(t, err)

	s := sqlite.New(db)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openStore(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestUnusedTokenIndexRejectsSecondInsert(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateToken(ctx, storetest.NewToken("user-1")))
	assert.Error(t, s.CreateToken(ctx, storetest.NewToken("user-1")))

	n, err := s.InvalidateTokens(ctx, "user-1", token.PurposeEmailVerification, storetest.T0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, s.CreateToken(ctx, storetest.NewToken("user-1")))
}
