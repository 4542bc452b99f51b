package store

// SchemaVersion is the current board database schema version
const SchemaVersion = 2

const schema = `
-- Lists (columns). position is advisory ordering only.
CREATE TABLE IF NOT EXISTS lists (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0 CHECK(position >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Items (cards). No UNIQUE on (list_id, position): range shifts pass
-- through transient duplicates inside a single UPDATE.
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    list_id TEXT NOT NULL,
    position INTEGER NOT NULL CHECK(position >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (list_id) REFERENCES lists(id) ON DELETE CASCADE
);

-- Schema info table
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_list_position ON items(list_id, position);
`

// Migration defines a board database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the ordered list of migrations applied on top of schema.
var Migrations = []Migration{
	{
		Version:     2,
		Description: "index lists by position",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_lists_position ON lists(position, created_at);`,
	},
}
