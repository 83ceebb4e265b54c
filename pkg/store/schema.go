package store

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id                 TEXT PRIMARY KEY,
	owner_scope        TEXT NOT NULL,
	owner_id           TEXT NOT NULL DEFAULT '',
	device_id          TEXT NOT NULL DEFAULT '',
	name               TEXT NOT NULL DEFAULT '',
	hash               TEXT NOT NULL,
	size               INTEGER NOT NULL,
	mime               TEXT NOT NULL DEFAULT '',
	ext                TEXT NOT NULL DEFAULT '',
	ip                 TEXT NOT NULL DEFAULT '',
	caption            TEXT NOT NULL DEFAULT '',
	tags               TEXT NOT NULL DEFAULT '',
	encrypted          INTEGER NOT NULL DEFAULT 0,
	pinned             INTEGER NOT NULL DEFAULT 0,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL,
	meta_kind          TEXT NOT NULL DEFAULT 'none',
	image_width        INTEGER,
	image_height       INTEGER,
	image_thumb_width  INTEGER,
	image_thumb_height INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_files_hash_scope ON files(hash, owner_scope);
CREATE INDEX IF NOT EXISTS idx_files_owner_created ON files(owner_scope, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_files_device ON files(owner_scope, device_id);
`
