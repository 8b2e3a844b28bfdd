package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DBPair provides the reader/writer split the repository runs against.
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository persists device profiles in SQLite.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a Repository over the given connection pair.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

const profileColumns = `name, instance_name, spotify_device_names, ip, port, cpath,
	volume_preset, max_wake_wait_s, last_seen_at, created_at, updated_at`

// GetByName retrieves a profile by its friendly name. Returns nil when the
// profile does not exist.
func (r *Repository) GetByName(name string) (*DeviceProfile, error) {
	row := r.reader.QueryRow(`
		SELECT `+profileColumns+`
		FROM device_profiles
		WHERE name = ?
	`, name)

	return scanProfileRow(row)
}

// List retrieves all profiles ordered by name.
func (r *Repository) List() ([]*DeviceProfile, error) {
	rows, err := r.reader.Query(`
		SELECT ` + profileColumns + `
		FROM device_profiles
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*DeviceProfile
	for rows.Next() {
		profile, err := scanProfileRows(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

// Upsert inserts the profile or updates the existing row with the same name.
// created_at is preserved on update; updated_at is always refreshed.
func (r *Repository) Upsert(p *DeviceProfile) error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}

	namesJSON, err := json.Marshal(normalizedNameList(p.SpotifyDeviceNames))
	if err != nil {
		return fmt.Errorf("marshal spotify_device_names: %w", err)
	}

	now := nowISO()
	var lastSeenAt *string
	if p.LastSeenAt != nil {
		s := p.LastSeenAt.UTC().Format(time.RFC3339)
		lastSeenAt = &s
	}

	_, err = r.writer.Exec(`
		INSERT INTO device_profiles (
			name, instance_name, spotify_device_names, ip, port, cpath,
			volume_preset, max_wake_wait_s, last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			instance_name = excluded.instance_name,
			spotify_device_names = excluded.spotify_device_names,
			ip = excluded.ip,
			port = excluded.port,
			cpath = excluded.cpath,
			volume_preset = excluded.volume_preset,
			max_wake_wait_s = excluded.max_wake_wait_s,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at
	`,
		p.Name, p.InstanceName, string(namesJSON), p.IP, p.Port,
		NormalizeCPath(p.CPath), p.VolumePreset, p.MaxWakeWaitSec,
		lastSeenAt, now, now,
	)
	return err
}

// Delete removes a profile. Missing rows are not an error.
func (r *Repository) Delete(name string) error {
	_, err := r.writer.Exec(`DELETE FROM device_profiles WHERE name = ?`, name)
	return err
}

func scanProfileRow(row *sql.Row) (*DeviceProfile, error) {
	var p DeviceProfile
	var namesJSON string
	var maxWakeWait sql.NullInt64
	var lastSeenAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&p.Name, &p.InstanceName, &namesJSON, &p.IP, &p.Port, &p.CPath,
		&p.VolumePreset, &maxWakeWait, &lastSeenAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return parseProfile(&p, namesJSON, maxWakeWait, lastSeenAt, createdAt, updatedAt)
}

func scanProfileRows(rows *sql.Rows) (*DeviceProfile, error) {
	var p DeviceProfile
	var namesJSON string
	var maxWakeWait sql.NullInt64
	var lastSeenAt sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(
		&p.Name, &p.InstanceName, &namesJSON, &p.IP, &p.Port, &p.CPath,
		&p.VolumePreset, &maxWakeWait, &lastSeenAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	return parseProfile(&p, namesJSON, maxWakeWait, lastSeenAt, createdAt, updatedAt)
}

// parseProfile converts nullable columns into a DeviceProfile.
func parseProfile(p *DeviceProfile, namesJSON string, maxWakeWait sql.NullInt64, lastSeenAt sql.NullString, createdAt, updatedAt string) (*DeviceProfile, error) {
	p.SpotifyDeviceNames = []string{}
	if namesJSON != "" {
		if err := json.Unmarshal([]byte(namesJSON), &p.SpotifyDeviceNames); err != nil {
			return nil, fmt.Errorf("failed to parse spotify_device_names: %w", err)
		}
	}

	if maxWakeWait.Valid {
		v := int(maxWakeWait.Int64)
		p.MaxWakeWaitSec = &v
	}

	if lastSeenAt.Valid {
		t, err := time.Parse(time.RFC3339, lastSeenAt.String)
		if err != nil {
			t, _ = time.Parse("2006-01-02 15:04:05", lastSeenAt.String)
		}
		p.LastSeenAt = &t
	}

	var err error
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		p.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		p.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	}

	return p, nil
}

// normalizedNameList drops empty entries and duplicates so the stored JSON
// stays a set.
func normalizedNameList(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := NormalizeName(name)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
