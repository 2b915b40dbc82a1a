// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE pricing_rules (
		id INTEGER PRIMARY KEY,
		scope TEXT NOT NULL,
		owner_id TEXT,
		client_id TEXT,
		product_key TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_pricing_rules_active_tuple
		ON pricing_rules (scope, COALESCE(owner_id, ''), COALESCE(client_id, ''), product_key)
		WHERE active`,
	`CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		client_id TEXT NOT NULL,
		professional_id TEXT,
		product_key TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_reference TEXT,
		pix_copy_paste TEXT,
		pix_qr_image_url TEXT,
		expires_at TIMESTAMP,
		pricing_rule_id INTEGER NOT NULL,
		pricing_scope TEXT NOT NULL,
		failure_reason TEXT,
		paid_at TIMESTAMP,
		entitlements_claimed_at TIMESTAMP,
		entitlements_applied_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE manual_pix_proofs (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		uploaded_by TEXT NOT NULL,
		file_path TEXT NOT NULL,
		status TEXT NOT NULL,
		reviewed_by TEXT,
		reviewed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_manual_pix_proofs_one_approved
		ON manual_pix_proofs (order_id) WHERE status = 'approved'`,
	`CREATE TABLE payment_provider_settings (
		id INTEGER PRIMARY KEY,
		active_provider TEXT NOT NULL DEFAULT 'manual',
		manual_pix_key TEXT NOT NULL DEFAULT '',
		manual_pix_copy_paste TEXT NOT NULL DEFAULT '',
		manual_pix_display_name TEXT NOT NULL DEFAULT '',
		manual_pix_instructions TEXT NOT NULL DEFAULT '',
		updated_by TEXT,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`INSERT INTO payment_provider_settings (id) VALUES (1)`,
	`CREATE TABLE payment_webhook_events (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		data_id TEXT NOT NULL,
		request_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		order_id INTEGER,
		outcome TEXT NOT NULL,
		payload TEXT NOT NULL,
		received_at TIMESTAMP NOT NULL
	)`,
}

// NewDB opens an isolated in-memory database with the service schema.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// NewNode returns a snowflake node for test id generation.
func NewNode(t *testing.T, id int64) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(id)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// AssertCount fails the test when the count query does not match.
func AssertCount(t *testing.T, db *gorm.DB, query string, want int64, args ...any) {
	t.Helper()
	var got int64
	if err := db.Raw(query, args...).Scan(&got).Error; err != nil {
		t.Fatalf("count query: %v", err)
	}
	if got != want {
		t.Fatalf("expected count %d, got %d for %q", want, got, query)
	}
}
