package store

// migration1WorkItems creates the primary work_items table. The vector
// column is stored as a JSON array of float32 (§4.C: "embedded fixed-size
// vector column of dimension D") — modernc.org/sqlite has no native
// vector type, so nearest-neighbour search is computed in Go over the
// decoded column, the same approach the rag.VectorStore this is grounded
// on takes for its `chunks` table.
const migration1WorkItems = `
CREATE TABLE IF NOT EXISTS work_items (
	id TEXT PRIMARY KEY,
	item_id TEXT,
	item_type TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'backlog',
	priority TEXT NOT NULL DEFAULT 'medium',
	parent_id TEXT REFERENCES work_items(id),
	dependencies TEXT NOT NULL DEFAULT '[]',
	assignee TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	acceptance_criteria TEXT NOT NULL DEFAULT '[]',
	estimated_hours REAL,
	actual_hours REAL,
	progress REAL NOT NULL DEFAULT 0,
	autonomous_executable INTEGER NOT NULL DEFAULT 0,
	execution_instructions TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	vector TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_work_items_parent ON work_items(parent_id);
CREATE INDEX IF NOT EXISTS idx_work_items_item_id ON work_items(item_id);
CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_work_items_type ON work_items(item_type);

CREATE TABLE IF NOT EXISTS work_item_deps (
	from_id TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
	to_id TEXT NOT NULL REFERENCES work_items(id) ON DELETE CASCADE,
	PRIMARY KEY (from_id, to_id)
);

CREATE INDEX IF NOT EXISTS idx_work_item_deps_to ON work_item_deps(to_id);
`

// migration2FTS creates the FTS5 virtual table covering title,
// description, acceptance_criteria, status, priority, item_type (§4.C)
// and the triggers that keep it in sync, following the
// rag.VectorStore.migrate trigger pattern.
const migration2FTS = `
CREATE VIRTUAL TABLE IF NOT EXISTS work_items_fts USING fts5(
	id UNINDEXED,
	title,
	description,
	acceptance_criteria,
	status,
	priority,
	item_type,
	content='work_items',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS work_items_fts_ai AFTER INSERT ON work_items BEGIN
	INSERT INTO work_items_fts(rowid, id, title, description, acceptance_criteria, status, priority, item_type)
	VALUES (new.rowid, new.id, new.title, new.description, new.acceptance_criteria, new.status, new.priority, new.item_type);
END;

CREATE TRIGGER IF NOT EXISTS work_items_fts_ad AFTER DELETE ON work_items BEGIN
	INSERT INTO work_items_fts(work_items_fts, rowid, id, title, description, acceptance_criteria, status, priority, item_type)
	VALUES ('delete', old.rowid, old.id, old.title, old.description, old.acceptance_criteria, old.status, old.priority, old.item_type);
END;

CREATE TRIGGER IF NOT EXISTS work_items_fts_au AFTER UPDATE ON work_items BEGIN
	INSERT INTO work_items_fts(work_items_fts, rowid, id, title, description, acceptance_criteria, status, priority, item_type)
	VALUES ('delete', old.rowid, old.id, old.title, old.description, old.acceptance_criteria, old.status, old.priority, old.item_type);
	INSERT INTO work_items_fts(rowid, id, title, description, acceptance_criteria, status, priority, item_type)
	VALUES (new.rowid, new.id, new.title, new.description, new.acceptance_criteria, new.status, new.priority, new.item_type);
END;
`

// migration3Execution creates the ExecutionRecord table family, owned
// exclusively by the orchestrator but persisted by the storage core.
const migration3Execution = `
CREATE TABLE IF NOT EXISTS execution_records (
	execution_id TEXT PRIMARY KEY,
	work_item_id TEXT NOT NULL REFERENCES work_items(id),
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	plan TEXT NOT NULL DEFAULT '[]',
	agent_context TEXT NOT NULL DEFAULT '{}',
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	cancel_reason TEXT,
	rollback_requested INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_execution_records_work_item ON execution_records(work_item_id);
CREATE INDEX IF NOT EXISTS idx_execution_records_status ON execution_records(status);

CREATE TABLE IF NOT EXISTS execution_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL REFERENCES execution_records(execution_id) ON DELETE CASCADE,
	ts DATETIME NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_logs_execution ON execution_logs(execution_id);

CREATE TABLE IF NOT EXISTS execution_artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL REFERENCES execution_records(execution_id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	uri TEXT NOT NULL,
	digest TEXT NOT NULL,
	superseded INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_execution_artifacts_execution ON execution_artifacts(execution_id);

CREATE TABLE IF NOT EXISTS execution_validations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL REFERENCES execution_records(execution_id) ON DELETE CASCADE,
	check_name TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_execution_validations_execution ON execution_validations(execution_id);
`

// migration4SyncState creates the SyncState table, owned exclusively by
// the sync engine (§3.1 SyncState, §6.3 file shape).
const migration4SyncState = `
CREATE TABLE IF NOT EXISTS sync_states (
	file_path TEXT NOT NULL,
	work_item_id TEXT NOT NULL REFERENCES work_items(id),
	content_checksum TEXT NOT NULL,
	last_sync_at DATETIME NOT NULL,
	direction TEXT NOT NULL,
	PRIMARY KEY (file_path, work_item_id)
);

CREATE INDEX IF NOT EXISTS idx_sync_states_work_item ON sync_states(work_item_id);
`
