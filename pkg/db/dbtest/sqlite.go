// Package dbtest opens in-memory sqlite databases carrying the reviewflow
// schema for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const schema = `
CREATE TABLE IF NOT EXISTS integrations (
  id TEXT PRIMARY KEY,
  business_id TEXT NOT NULL,
  provider TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'linked',
  is_active INTEGER NOT NULL DEFAULT 0,
  test_mode INTEGER NOT NULL DEFAULT 0,
  test_phone TEXT,
  consent_confirmed INTEGER NOT NULL DEFAULT 0,
  consent_confirmed_at DATETIME,
  access_token_ciphertext BLOB,
  refresh_token_ciphertext BLOB,
  token_expires_at DATETIME,
  api_key_ciphertext BLOB,
  webhook_secret_ciphertext BLOB,
  inbound_key_hash TEXT,
  inbound_token TEXT NOT NULL UNIQUE,
  external_account_id TEXT,
  version INTEGER NOT NULL DEFAULT 0,
  connected_at DATETIME,
  disconnected_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (business_id, provider)
);
CREATE TABLE IF NOT EXISTS locations (
  id TEXT PRIMARY KEY,
  integration_id TEXT NOT NULL,
  external_location_id TEXT NOT NULL,
  display_name TEXT NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  enabled INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (integration_id, external_location_id)
);
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  business_id TEXT NOT NULL,
  integration_id TEXT NOT NULL,
  location_id TEXT,
  provider TEXT NOT NULL,
  provider_event_id TEXT,
  customer_name TEXT NOT NULL DEFAULT '',
  customer_phone TEXT NOT NULL DEFAULT '',
  purchase_amount TEXT NOT NULL DEFAULT '0',
  currency TEXT NOT NULL DEFAULT 'USD',
  dispatch_status TEXT NOT NULL DEFAULT 'pending',
  test_mode INTEGER NOT NULL DEFAULT 0,
  send_attempted_at DATETIME,
  message_id TEXT,
  failure_reason TEXT,
  created_at DATETIME,
  completed_at DATETIME,
  recipient_phone TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_integration_event_key
  ON transactions (integration_id, provider_event_id);
CREATE TABLE IF NOT EXISTS test_send_quotas (
  business_id TEXT PRIMARY KEY,
  sent_count INTEGER NOT NULL DEFAULT 0,
  reset_on TEXT NOT NULL,
  updated_at DATETIME
);`

// Open returns a fresh database private to the calling test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, conn.Exec(stmt).Error)
	}

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}
