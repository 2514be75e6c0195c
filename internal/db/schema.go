package db

import "context"

// schema is the authoritative DDL for the `init` CLI subcommand. There is no
// migration framework in play here — two tables and two indexes don't
// warrant one, and nothing in the retrieval pack's complete repos pulls one
// in either.
const schema = `
CREATE TABLE IF NOT EXISTS workers (
	id uuid PRIMARY KEY,
	last_heard_at timestamptz NOT NULL
);

DO $$ BEGIN
	CREATE TYPE task_status AS ENUM (
		'pending', 'dispatched', 'running', 'succeeded', 'failed', 'interrupted'
	);
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;

CREATE TABLE IF NOT EXISTS tasks (
	id uuid PRIMARY KEY,
	def json NOT NULL,
	worker_id uuid REFERENCES workers(id),
	status task_status NOT NULL,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL,
	scheduled_at timestamptz
);

CREATE INDEX IF NOT EXISTS tasks_worker_id_idx ON tasks(worker_id);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks(status);
`

// InitSchema creates the workers and tasks tables if they do not already
// exist. Safe to run repeatedly against an already-initialized database.
func (g *Gateway) InitSchema(ctx context.Context) error {
	_, err := g.pool.Exec(ctx, schema)
	return err
}
