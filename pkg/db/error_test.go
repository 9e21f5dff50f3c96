package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: invoice_line_items.billing_item_id")))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "ux_invoice_line_items_billing_item"`)))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestDialect(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	assert.Error(t, err)

	dialector, err := Dialect(Config{Type: "sqlite", Name: ":memory:"})
	assert.NoError(t, err)
	assert.Equal(t, "sqlite", dialector.Name())
}
