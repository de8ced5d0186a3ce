package sqlite

// Schema creates every table used by the store. All statements are idempotent.
// Timestamps are stored as unix nanoseconds so ordering and range queries
// compare integers.
const Schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	email            TEXT,
	profile_url      TEXT,
	last_enriched_at INTEGER,
	data             TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_contacts_updated_at ON contacts(updated_at);

CREATE TABLE IF NOT EXISTS enrichment_records (
	id           TEXT PRIMARY KEY,
	contact_id   TEXT NOT NULL,
	profile_url  TEXT NOT NULL,
	raw_response TEXT,
	enriched     TEXT,
	created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrichment_profile_url ON enrichment_records(profile_url, created_at);
CREATE INDEX IF NOT EXISTS idx_enrichment_contact ON enrichment_records(contact_id, created_at);

CREATE TABLE IF NOT EXISTS contact_vectors (
	contact_id   TEXT PRIMARY KEY,
	model        TEXT NOT NULL,
	dimension    INTEGER NOT NULL,
	text         TEXT NOT NULL,
	embedding    BLOB NOT NULL,
	generated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contact_vectors_model ON contact_vectors(model);

CREATE TABLE IF NOT EXISTS organizations (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	logo_url    TEXT,
	profile_url TEXT,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	UNIQUE(name, type)
);
`
