package track

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cadence/internal/config"
)

// Store manages track, batch run, and webhook event persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the track database and ensures the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.LogDir, "tracks.db"))
}

// OpenPath opens the track database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the database file.
func (s *Store) Path() string {
	return s.path
}

const trackColumns = "id, title, fingerprint, status, progress, error_message, audio_file, image_file, video_file, video_id, uploaded_at, upload_enabled, created_at, updated_at"

func scanTrack(scanner interface{ Scan(dest ...any) error }) (*Track, error) {
	var (
		id            int64
		title         string
		fingerprint   sql.NullString
		statusStr     string
		progress      sql.NullInt64
		errorMessage  sql.NullString
		audioFile     sql.NullString
		imageFile     sql.NullString
		videoFile     sql.NullString
		videoID       sql.NullString
		uploadedRaw   sql.NullString
		uploadEnabled sql.NullInt64
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&fingerprint,
		&statusStr,
		&progress,
		&errorMessage,
		&audioFile,
		&imageFile,
		&videoFile,
		&videoID,
		&uploadedRaw,
		&uploadEnabled,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	t := &Track{
		ID:           id,
		Title:        title,
		Fingerprint:  fingerprint.String,
		Status:       Status(statusStr),
		Progress:     int(progress.Int64),
		ErrorMessage: errorMessage.String,
		AudioFile:    audioFile.String,
		ImageFile:    imageFile.String,
		VideoFile:    videoFile.String,
		VideoID:      videoID.String,
	}
	if uploadEnabled.Valid {
		t.UploadEnabled = uploadEnabled.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		t.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		t.UpdatedAt = updated
	}
	if uploadedRaw.Valid {
		if uploaded, err := parseTimeString(uploadedRaw.String); err == nil {
			t.UploadedAt = &uploaded
		}
	}
	return t, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(sortableTimeFormat)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

// sortableTimeFormat keeps a fixed-width fraction so stored timestamps
// compare correctly as strings in SQL.
const sortableTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func nowString() string {
	return time.Now().UTC().Format(sortableTimeFormat)
}
