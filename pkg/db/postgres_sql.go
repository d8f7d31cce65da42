package db

//noinspection SpellCheckingInspection
const pgsql = `
BEGIN;

CREATE TABLE IF NOT EXISTS schema_version (
  version INT NOT NULL
);

INSERT INTO schema_version (version)
SELECT 1 WHERE NOT EXISTS (SELECT 1 FROM schema_version);

-- Pledges

CREATE TABLE IF NOT EXISTS pledges (
  pledge_id VARCHAR(32) PRIMARY KEY CHECK (pledge_id ~ '^PLEDGE-[0-9]{4}-[0-9]+$'),
  donor_name TEXT NULL,
  donor_email TEXT NULL,
  pledged_amount NUMERIC(14, 2) NOT NULL DEFAULT 0,
  verified_receipt_total NUMERIC(14, 2) NOT NULL DEFAULT 0,
  status VARCHAR(32) NOT NULL,
  created_at TIMESTAMPTZ NULL,
  updated_at TIMESTAMPTZ NULL
);

-- Receipts

CREATE TABLE IF NOT EXISTS receipts (
  receipt_id VARCHAR(64) PRIMARY KEY,
  pledge_id VARCHAR(32) NOT NULL REFERENCES pledges(pledge_id),
  status VARCHAR(16) NOT NULL,
  verified_amount NUMERIC(14, 2) NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS receipts_pledge_id_idx ON receipts(pledge_id);

-- Allocations

CREATE TABLE IF NOT EXISTS allocations (
  alloc_id VARCHAR(32) PRIMARY KEY,
  pledge_id VARCHAR(32) NOT NULL REFERENCES pledges(pledge_id),
  cms_id VARCHAR(64) NOT NULL,
  amount NUMERIC(14, 2) NOT NULL CHECK (amount > 0),
  status VARCHAR(32) NOT NULL,
  hostel_reply_id TEXT NULL,
  hostel_reply_date TIMESTAMPTZ NULL,
  donor_notify_id TEXT NULL,
  donor_notify_date TIMESTAMPTZ NULL,
  created_by TEXT NULL,
  created_at TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS allocations_pledge_id_idx ON allocations(pledge_id);
CREATE INDEX IF NOT EXISTS allocations_status_idx ON allocations(status);

-- Beneficiary projection

CREATE TABLE IF NOT EXISTS beneficiary_needs (
  cms_id VARCHAR(64) PRIMARY KEY,
  pending_need NUMERIC(14, 2) NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NULL
);

-- Audit trail

CREATE TABLE IF NOT EXISTS audit_records (
  id VARCHAR(32) PRIMARY KEY,
  actor TEXT NOT NULL,
  event_type VARCHAR(32) NOT NULL,
  target_id VARCHAR(64) NOT NULL,
  description TEXT NULL,
  previous_value TEXT NULL,
  new_value TEXT NULL,
  metadata JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS audit_records_target_id_idx ON audit_records(target_id);

-- Reconciliation bookkeeping

CREATE TABLE IF NOT EXISTS signal_attempts (
  signal_id VARCHAR(128) PRIMARY KEY,
  stale_count INT NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NULL
);

COMMIT;
END;
`
