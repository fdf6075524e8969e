package pool

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	db.Exec(`CREATE TABLE IF NOT EXISTS shared_items (
		id BIGINT PRIMARY KEY,
		product_id BIGINT NOT NULL,
		content TEXT NOT NULL,
		order_index BIGINT NOT NULL DEFAULT 0,
		revealed_to_user_id BIGINT,
		revealed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return db
}

func TestAllocateNextOrdering(t *testing.T) {
	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	allocator := NewAllocator(Params{Log: zap.NewNop()})
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	productID := node.Generate()
	// Inserted out of order; allocation must follow order_index.
	for _, row := range []struct {
		content string
		index   int64
	}{
		{"third", 3}, {"first", 1}, {"second", 2},
	} {
		require.NoError(t, db.Exec(
			`INSERT INTO shared_items (id, product_id, content, order_index, created_at)
			 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			node.Generate(), productID, row.content, row.index,
		).Error)
	}

	count, err := allocator.AvailableCount(ctx, db, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	var got []string
	for i := 0; i < 3; i++ {
		item, err := allocator.AllocateNext(ctx, db, productID, node.Generate(), now)
		require.NoError(t, err)
		require.NotNil(t, item.RevealedToUserID)
		got = append(got, item.Content)
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)

	count, err = allocator.AvailableCount(ctx, db, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = allocator.AllocateNext(ctx, db, productID, node.Generate(), now)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestAllocateNextIsScopedToProduct(t *testing.T) {
	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	allocator := NewAllocator(Params{Log: zap.NewNop()})
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mine := node.Generate()
	other := node.Generate()
	require.NoError(t, db.Exec(
		`INSERT INTO shared_items (id, product_id, content, order_index, created_at)
		 VALUES (?, ?, 'other-item', 1, CURRENT_TIMESTAMP)`,
		node.Generate(), other,
	).Error)

	_, err = allocator.AllocateNext(ctx, db, mine, node.Generate(), now)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}
