package sql

import (
	"database/sql"
	"fmt"
)

func (c *conn) migrate() (int, error) {
	if _, err := c.db.Exec(`
		create table if not exists migrations (
			num integer not null,
			at timestamptz not null
		);
	`); err != nil {
		return 0, fmt.Errorf("creating migration table: %v", err)
	}

	i := 0
	done := false
	for {
		err := c.ExecTx(func(tx *trans) error {
			var (
				num sql.NullInt64
				n   int
			)
			if err := tx.tx.QueryRow(c.flavor.translate(`select max(num) from migrations;`)).Scan(&num); err != nil {
				return fmt.Errorf("select max migration: %v", err)
			}
			if num.Valid {
				n = int(num.Int64)
			}
			if n >= len(migrations) {
				done = true
				return nil
			}

			migrationNum := n + 1
			m := migrations[n]
			if _, err := tx.tx.Exec(c.flavor.translate(m.stmt)); err != nil {
				return fmt.Errorf("migration %d failed: %v", migrationNum, err)
			}

			q := `insert into migrations (num, at) values ($1, now());`
			if _, err := tx.tx.Exec(c.flavor.translate(q), migrationNum); err != nil {
				return fmt.Errorf("update migration table: %v", err)
			}
			return nil
		})
		if err != nil {
			return i, err
		}
		if done {
			break
		}
		i++
	}
	return i, nil
}

type migration struct {
	stmt string
}

// migrations builds the event log, the unique-constraint side table, and
// the projection checkpoint table. Later migrations may add columns but
// must never rename or retype one — this is a persistent on-disk format.
var migrations = []migration{
	{
		stmt: `
			create table events (
				position bigserial primary key,
				instance_id text not null,
				aggregate_type text not null,
				aggregate_id text not null,
				aggregate_version bigint not null,
				event_type text not null,
				resource_owner_type text not null,
				resource_owner_id text not null,
				payload bytea not null,
				editor_user_id text not null,
				created_at timestamptz not null default now(),
				unique (instance_id, aggregate_type, aggregate_id, aggregate_version)
			);

			create index events_instance_position_idx on events (instance_id, position);
			create index events_aggregate_idx on events (instance_id, aggregate_type, aggregate_id);

			create table unique_constraints (
				instance_id text not null,
				constraint_name text not null,
				value text not null,
				primary key (instance_id, constraint_name, value)
			);

			create table projection_checkpoints (
				projection_name text not null,
				instance_id text not null,
				position bigint not null default 0,
				last_run_at timestamptz not null default now(),
				status text not null default 'running',
				primary key (projection_name, instance_id)
			);

			create table failed_events (
				projection_name text not null,
				instance_id text not null,
				position bigint not null,
				error text not null,
				attempts integer not null default 1,
				last_attempt_at timestamptz not null default now(),
				primary key (projection_name, instance_id, position)
			);
		`,
	},
}
