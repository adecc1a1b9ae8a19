package store

// Schema for the artifact store. Referential integrity is enforced by the
// engine (foreign_keys pragma is set on open); score bounds and non-empty
// text are checked at the SQL layer as a second line behind the repositories.
const schema = `
CREATE TABLE IF NOT EXISTS story (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	idea_ref   TEXT NOT NULL,
	state      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_story_state ON story(state);
CREATE INDEX IF NOT EXISTS idx_story_state_created ON story(state, created_at);

CREATE TABLE IF NOT EXISTS review (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	text       TEXT NOT NULL CHECK(length(text) > 0),
	score      INTEGER NOT NULL CHECK(score BETWEEN 0 AND 100),
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS title (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	story_id   INTEGER NOT NULL REFERENCES story(id),
	version    INTEGER NOT NULL CHECK(version >= 0),
	text       TEXT NOT NULL CHECK(length(text) > 0),
	review_id  INTEGER REFERENCES review(id),
	created_at TEXT NOT NULL,
	UNIQUE(story_id, version)
);
CREATE INDEX IF NOT EXISTS idx_title_story_version ON title(story_id, version);

CREATE TABLE IF NOT EXISTS content (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	story_id   INTEGER NOT NULL REFERENCES story(id),
	version    INTEGER NOT NULL CHECK(version >= 0),
	text       TEXT NOT NULL CHECK(length(text) > 0),
	review_id  INTEGER REFERENCES review(id),
	created_at TEXT NOT NULL,
	UNIQUE(story_id, version)
);
CREATE INDEX IF NOT EXISTS idx_content_story_version ON content(story_id, version);
`
