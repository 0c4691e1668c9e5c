package storage

import "database/sql"

// RegisterSQLiteMigrations registers the entity schema migrations
func RegisterSQLiteMigrations(runner *MigrationRunner) {
	runner.Register(Migration{
		Version:     "1.0.0",
		Name:        "create_entities",
		Description: "Entities table keyed by allocated identifier",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS entities (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				state TEXT NOT NULL,
				attributes TEXT, -- JSON object
				version INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type, id);
			`)
			return err
		},
	})

	runner.Register(Migration{
		Version:     "1.1.0",
		Name:        "create_entity_transitions",
		Description: "Audit trail of applied transitions",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS entity_transitions (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				entity_id TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				machine TEXT NOT NULL,
				action TEXT NOT NULL,
				from_state TEXT NOT NULL,
				to_state TEXT NOT NULL,
				at DATETIME NOT NULL,
				FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_entity_transitions_entity ON entity_transitions(entity_id, seq);
			`)
			return err
		},
	})
}
