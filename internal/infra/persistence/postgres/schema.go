package postgres

// schema creates the normalized relations. Stage tables carry UNIQUE(cycle_id)
// and every child cascades with its cycle.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		cycle_number INTEGER NOT NULL CHECK (cycle_number > 0),
		start_date DATE NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		subtitle TEXT NOT NULL DEFAULT '',
		cycle_type TEXT NOT NULL CHECK (cycle_type IN ('standard', 'transfer_only')),
		injection_skipped BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS cycles_owner_number_idx ON cycles (owner_id, cycle_number)`,
	`CREATE TABLE IF NOT EXISTS injections (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
		medication_name TEXT NOT NULL,
		dosage TEXT NOT NULL,
		injection_date DATE NOT NULL,
		injection_time TEXT,
		memo TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS injections_cycle_idx ON injections (cycle_id, injection_date, injection_time)`,
	`CREATE TABLE IF NOT EXISTS retrievals (
		cycle_id TEXT NOT NULL UNIQUE REFERENCES cycles(id) ON DELETE CASCADE,
		id TEXT PRIMARY KEY,
		retrieval_date DATE NOT NULL,
		total_eggs INTEGER NOT NULL CHECK (total_eggs >= 0),
		memo TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fertilizations (
		cycle_id TEXT NOT NULL UNIQUE REFERENCES cycles(id) ON DELETE CASCADE,
		id TEXT PRIMARY KEY,
		fertilization_date DATE NOT NULL,
		total_fertilized INTEGER NOT NULL CHECK (total_fertilized >= 0),
		memo TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cultures (
		cycle_id TEXT NOT NULL UNIQUE REFERENCES cycles(id) ON DELETE CASCADE,
		id TEXT PRIMARY KEY,
		culture_day INTEGER NOT NULL,
		total_embryos INTEGER NOT NULL CHECK (total_embryos >= 0),
		next_plans JSONB NOT NULL DEFAULT '[]',
		grade_a INTEGER CHECK (grade_a >= 0),
		grade_b INTEGER CHECK (grade_b >= 0),
		grade_c INTEGER CHECK (grade_c >= 0),
		memo TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		cycle_id TEXT NOT NULL UNIQUE REFERENCES cycles(id) ON DELETE CASCADE,
		id TEXT PRIMARY KEY,
		transfer_date DATE NOT NULL,
		transfer_count INTEGER NOT NULL CHECK (transfer_count >= 0),
		memo TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS freezes (
		cycle_id TEXT NOT NULL UNIQUE REFERENCES cycles(id) ON DELETE CASCADE,
		id TEXT PRIMARY KEY,
		freeze_date DATE NOT NULL,
		frozen_count INTEGER NOT NULL CHECK (frozen_count >= 0),
		memo TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pgts (
		cycle_id TEXT NOT NULL UNIQUE REFERENCES cycles(id) ON DELETE CASCADE,
		id TEXT PRIMARY KEY,
		tested INTEGER NOT NULL CHECK (tested >= 0),
		euploid INTEGER NOT NULL CHECK (euploid >= 0),
		mosaic INTEGER CHECK (mosaic >= 0),
		abnormal INTEGER NOT NULL CHECK (abnormal >= 0),
		result_date DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}
