package db

const schemaSQL = `
-- ===========================================================================
-- DEVICE PROFILES (registry)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS device_profiles (
  name TEXT PRIMARY KEY,
  instance_name TEXT NOT NULL DEFAULT '',
  spotify_device_names TEXT NOT NULL DEFAULT '[]',
  ip TEXT NOT NULL DEFAULT '',
  port INTEGER NOT NULL DEFAULT 0,
  cpath TEXT NOT NULL DEFAULT '/spotifyconnect/zeroconf',
  volume_preset INTEGER NOT NULL DEFAULT 30,
  max_wake_wait_s INTEGER,
  last_seen_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

-- ===========================================================================
-- ALARMS (scheduler)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS alarms (
  alarm_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 1,
  timezone TEXT NOT NULL,
  schedule_type TEXT NOT NULL DEFAULT 'WEEKLY',
  schedule_time TEXT NOT NULL DEFAULT '',
  schedule_weekdays TEXT,
  schedule_month INTEGER,
  schedule_day INTEGER,
  cron_expr TEXT,
  target TEXT NOT NULL,
  context_uri TEXT NOT NULL,
  shuffle INTEGER NOT NULL DEFAULT 0,
  next_run_at TEXT,
  last_run_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alarms_next_run ON alarms(next_run_at) WHERE enabled = 1;

-- ===========================================================================
-- ALARM RUNS (history)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS alarm_runs (
  run_id TEXT PRIMARY KEY,
  alarm_id TEXT,
  target TEXT NOT NULL,
  branch TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT 'UNKNOWN',
  context_uri TEXT NOT NULL DEFAULT '',
  started_at TEXT NOT NULL,
  finished_at TEXT,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  phases TEXT NOT NULL DEFAULT '{}',
  errors TEXT NOT NULL DEFAULT '[]',
  FOREIGN KEY (alarm_id) REFERENCES alarms(alarm_id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_alarm_runs_started ON alarm_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_alarm_runs_alarm ON alarm_runs(alarm_id, started_at);
`
