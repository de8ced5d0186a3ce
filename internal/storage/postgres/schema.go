package postgres

// Schema creates the base tables. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	email            TEXT,
	profile_url      TEXT,
	last_enriched_at TIMESTAMPTZ,
	data             JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_contacts_updated_at ON contacts(updated_at);

CREATE TABLE IF NOT EXISTS enrichment_records (
	seq          BIGSERIAL,
	id           TEXT PRIMARY KEY,
	contact_id   TEXT NOT NULL,
	profile_url  TEXT NOT NULL,
	raw_response JSONB,
	enriched     JSONB,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrichment_profile_url ON enrichment_records(profile_url, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_enrichment_contact ON enrichment_records(contact_id, created_at DESC);

CREATE TABLE IF NOT EXISTS contact_vectors (
	contact_id   TEXT PRIMARY KEY,
	model        TEXT NOT NULL,
	dimension    INTEGER NOT NULL,
	text         TEXT NOT NULL,
	embedding    BYTEA NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contact_vectors_model ON contact_vectors(model);

CREATE TABLE IF NOT EXISTS organizations (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	logo_url    TEXT,
	profile_url TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE(name, type)
);
`

// MigrationPgvector adds the native vector column used for cosine-distance
// ordering. Applied only when the vector extension is available. The
// column is untyped so models of any dimension can share it.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'contact_vectors' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE contact_vectors ADD COLUMN embedding_vec vector;
    END IF;
END
$$;
`
