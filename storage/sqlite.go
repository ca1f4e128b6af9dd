package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultPageSize = 20
	dbFileName      = "stream_cache.db"
)

type SQLiteStorage struct {
	db       *sql.DB
	dbPath   string
	dataPath string
	now      func() time.Time
}

func NewSQLiteStorage(dataPath string) *SQLiteStorage {
	dbPath := filepath.Join(dataPath, dbFileName)
	return &SQLiteStorage{
		dbPath:   dbPath,
		dataPath: dataPath,
		now:      time.Now,
	}
}

// Initialize opens the shared connection and brings the schema up to date.
// Calling it again on an open store is a no-op.
func (s *SQLiteStorage) Initialize() error {
	if s.db != nil {
		return nil
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(s.dataPath, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(s.dbPath))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps the foreign key pragma and write ordering simple.
	db.SetMaxOpenConns(1)

	s.db = db

	migrations, err := NewMigrationManager(s.db)
	if err != nil {
		return err
	}
	if _, err := migrations.Up(context.Background()); err != nil {
		return err
	}

	log.Printf("SQLite database initialized at: %s", s.dbPath)
	return nil
}

func dsn(path string) string {
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}

func (s *SQLiteStorage) GetByExternalIDAndType(contentType ContentType, externalID int64) (*ContentRecord, error) {
	row := s.db.QueryRow(`
	SELECT external_id, content_type, payload, available, last_checked
	FROM content
	WHERE external_id = ? AND content_type = ?
	`, externalID, string(contentType))

	record, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", contentType, externalID, err)
	}

	seasons, err := s.loadSeasons(externalID)
	if err != nil {
		return nil, err
	}
	record.Seasons = seasons
	return record, nil
}

// QueryByCategory returns available records of one type that carry the
// category's backing field, sorted on it in descending order. Unknown
// categories filter on the literal field name and sort by popularity.
func (s *SQLiteStorage) QueryByCategory(contentType ContentType, category string, page, pageSize int) (*CategoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	where := "content_type = ? AND available = 1"
	args := []any{string(contentType)}

	filterField, sortField := categoryFields(contentType, category)
	if filterField != "" {
		where += " AND json_type(payload, ?) IS NOT NULL"
		args = append(args, jsonPath(filterField))
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM content WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count %s category %q: %w", contentType, category, err)
	}

	query := `
	SELECT external_id, content_type, payload, available, last_checked
	FROM content
	WHERE ` + where + `
	ORDER BY json_extract(payload, ?) DESC, external_id ASC
	LIMIT ? OFFSET ?
	`
	queryArgs := append(append([]any{}, args...), jsonPath(sortField), pageSize, (page-1)*pageSize)

	rows, err := s.db.Query(query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s category %q: %w", contentType, category, err)
	}
	defer rows.Close()

	items := []ContentRecord{}
	for rows.Next() {
		record, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		items = append(items, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s category %q: %w", contentType, category, err)
	}

	return &CategoryPage{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

func categoryFields(contentType ContentType, category string) (filter, sort string) {
	switch category {
	case "":
		return "", "popularity"
	case "popular":
		return "popularity", "popularity"
	case "latest":
		if contentType == TVShow {
			return "first_air_date", "first_air_date"
		}
		return "release_date", "release_date"
	case "top_rated":
		return "vote_average", "vote_average"
	default:
		return category, "popularity"
	}
}

// jsonPath turns a dotted field name into a quoted sqlite JSON path
func jsonPath(field string) string {
	parts := strings.Split(field, ".")
	var b strings.Builder
	b.WriteString("$")
	for _, part := range parts {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(part, `"`, ""))
		b.WriteString(`"`)
	}
	return b.String()
}

// Upsert inserts or replaces a record by external id. LastChecked never moves
// backwards. Seasons are merged only when the record carries any.
func (s *SQLiteStorage) Upsert(record ContentRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	// Movies and shows share the id space. A record that changes type drops
	// the seasons of its previous type.
	_, err = tx.Exec(`
	DELETE FROM seasons
	WHERE external_id = ?
	AND EXISTS (SELECT 1 FROM content WHERE external_id = ? AND content_type <> ?)
	`, record.ExternalID, record.ExternalID, string(record.ContentType))
	if err != nil {
		return fmt.Errorf("failed to clear seasons of %d: %w", record.ExternalID, err)
	}

	_, err = tx.Exec(`
	INSERT INTO content (external_id, content_type, payload, available, last_checked)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(external_id) DO UPDATE SET
		content_type = excluded.content_type,
		payload = excluded.payload,
		available = excluded.available,
		last_checked = MAX(content.last_checked, excluded.last_checked),
		updated_at = CURRENT_TIMESTAMP
	`, record.ExternalID, string(record.ContentType), payloadText(record.Payload),
		record.Available, s.timestamp(record.LastChecked))
	if err != nil {
		return fmt.Errorf("failed to upsert content %d: %w", record.ExternalID, err)
	}

	if len(record.Seasons) > 0 {
		if err := s.mergeSeasons(tx, record.ExternalID, record.Seasons); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert of %d: %w", record.ExternalID, err)
	}
	return nil
}

// BulkUpsertSeasons writes season lists for many shows in one transaction.
// Each entry runs under its own savepoint so a bad entry is rolled back and
// counted as failed without affecting the others.
func (s *SQLiteStorage) BulkUpsertSeasons(updates []SeasonUpdate) (BulkResult, error) {
	var result BulkResult
	if len(updates) == 0 {
		return result, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return result, fmt.Errorf("failed to begin bulk write: %w", err)
	}
	defer tx.Rollback()

	for _, update := range updates {
		if _, err := tx.Exec("SAVEPOINT season_update"); err != nil {
			return result, fmt.Errorf("failed to open savepoint: %w", err)
		}

		if err := s.applySeasonUpdate(tx, update); err != nil {
			log.Printf("Skipping season update for %d: %v", update.ExternalID, err)
			if _, rbErr := tx.Exec("ROLLBACK TO season_update"); rbErr != nil {
				return result, fmt.Errorf("failed to roll back savepoint: %w", rbErr)
			}
			result.Failed++
		} else {
			result.Succeeded++
		}

		if _, err := tx.Exec("RELEASE season_update"); err != nil {
			return result, fmt.Errorf("failed to release savepoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return BulkResult{Failed: len(updates)}, fmt.Errorf("failed to commit bulk write: %w", err)
	}
	return result, nil
}

func (s *SQLiteStorage) applySeasonUpdate(tx *sql.Tx, update SeasonUpdate) error {
	if update.ExternalID <= 0 {
		return fmt.Errorf("invalid external id %d", update.ExternalID)
	}

	var exists bool
	err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM content WHERE external_id = ?)`, update.ExternalID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if content exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("content %d: %w", update.ExternalID, ErrNotFound)
	}

	if err := s.mergeSeasons(tx, update.ExternalID, update.Seasons); err != nil {
		return err
	}

	// Drop seasons the catalog no longer lists; their episodes cascade.
	numbers := make([]any, 0, len(update.Seasons)+1)
	numbers = append(numbers, update.ExternalID)
	for _, season := range update.Seasons {
		numbers = append(numbers, season.SeasonNumber)
	}
	query := "DELETE FROM seasons WHERE external_id = ?"
	if len(update.Seasons) > 0 {
		query += " AND season_number NOT IN (" + placeholders(len(update.Seasons)) + ")"
	}
	if _, err := tx.Exec(query, numbers...); err != nil {
		return fmt.Errorf("failed to prune seasons of %d: %w", update.ExternalID, err)
	}
	return nil
}

// mergeSeasons upserts seasons (and any episodes they carry) of one show
func (s *SQLiteStorage) mergeSeasons(tx *sql.Tx, externalID int64, seasons []SeasonRecord) error {
	seen := make(map[int]bool, len(seasons))
	for _, season := range seasons {
		if season.SeasonNumber < 0 {
			return fmt.Errorf("invalid season number %d for %d", season.SeasonNumber, externalID)
		}
		if seen[season.SeasonNumber] {
			return fmt.Errorf("duplicate season number %d for %d", season.SeasonNumber, externalID)
		}
		seen[season.SeasonNumber] = true

		_, err := tx.Exec(`
		INSERT INTO seasons (external_id, season_number, episode_count, name, air_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id, season_number) DO UPDATE SET
			episode_count = excluded.episode_count,
			name = excluded.name,
			air_date = excluded.air_date
		`, externalID, season.SeasonNumber, season.EpisodeCount, season.Name, season.AirDate)
		if err != nil {
			return fmt.Errorf("failed to upsert season %d of %d: %w", season.SeasonNumber, externalID, err)
		}

		for _, episode := range season.Episodes {
			if err := s.upsertEpisodeRow(tx, externalID, season.SeasonNumber, episode); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLiteStorage) upsertEpisodeRow(tx *sql.Tx, showID int64, season int, episode EpisodeRecord) error {
	_, err := tx.Exec(`
	INSERT INTO episodes (external_id, season_number, episode_number, available, last_checked)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(external_id, season_number, episode_number) DO UPDATE SET
		available = excluded.available,
		last_checked = MAX(episodes.last_checked, excluded.last_checked)
	`, showID, season, episode.EpisodeNumber, episode.Available, s.timestamp(episode.LastChecked))
	if err != nil {
		return fmt.Errorf("failed to upsert episode %d-%d of %d: %w", season, episode.EpisodeNumber, showID, err)
	}
	return nil
}

// DeleteOlderThan removes every record last checked more than ttl ago. A show
// is kept while any of its episodes was checked inside the window.
func (s *SQLiteStorage) DeleteOlderThan(ttl time.Duration) (int64, error) {
	cutoff := s.now().Add(-ttl).UnixMilli()
	result, err := s.db.Exec(`
	DELETE FROM content
	WHERE last_checked < ?
	AND NOT EXISTS (
		SELECT 1 FROM episodes
		WHERE episodes.external_id = content.external_id AND episodes.last_checked >= ?
	)
	`, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old content: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted content: %w", err)
	}
	return deleted, nil
}

// LookupAvailability returns the cached availability of the given ids.
// Ids without a record are absent from the map.
func (s *SQLiteStorage) LookupAvailability(contentType ContentType, externalIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(externalIDs)+1)
	args = append(args, string(contentType))
	for _, id := range externalIDs {
		args = append(args, id)
	}

	rows, err := s.db.Query(`
	SELECT external_id, available FROM content
	WHERE content_type = ? AND external_id IN (`+placeholders(len(externalIDs))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up availability: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var available bool
		if err := rows.Scan(&id, &available); err != nil {
			return nil, fmt.Errorf("failed to scan availability: %w", err)
		}
		out[id] = available
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetEpisode(showID int64, season, episode int) (*EpisodeRecord, error) {
	var record EpisodeRecord
	var checked int64
	err := s.db.QueryRow(`
	SELECT episode_number, available, last_checked FROM episodes
	WHERE external_id = ? AND season_number = ? AND episode_number = ?
	`, showID, season, episode).Scan(&record.EpisodeNumber, &record.Available, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get episode %d-%d of %d: %w", season, episode, showID, err)
	}
	record.LastChecked = time.UnixMilli(checked)
	return &record, nil
}

// UpsertEpisode ensures the show, then the season, then sets the episode, all
// in one transaction. An existing episode is updated in place. The show
// record itself is never changed by an episode write.
func (s *SQLiteStorage) UpsertEpisode(update EpisodeUpdate) error {
	if update.ShowID <= 0 {
		return fmt.Errorf("invalid show id %d", update.ShowID)
	}
	if update.SeasonNumber < 0 || update.EpisodeNumber < 1 {
		return fmt.Errorf("invalid episode %d-%d", update.SeasonNumber, update.EpisodeNumber)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin episode upsert: %w", err)
	}
	defer tx.Rollback()

	// A placeholder parent is unavailable and already stale, so the next show
	// check probes it.
	_, err = tx.Exec(`
	INSERT INTO content (external_id, content_type, payload, available, last_checked)
	VALUES (?, 'tvshow', ?, 0, 0)
	ON CONFLICT(external_id) DO NOTHING
	`, update.ShowID, payloadText(update.ShowPayload))
	if err != nil {
		return fmt.Errorf("failed to ensure show %d: %w", update.ShowID, err)
	}

	_, err = tx.Exec(`
	INSERT INTO seasons (external_id, season_number, episode_count)
	VALUES (?, ?, ?)
	ON CONFLICT(external_id, season_number) DO UPDATE SET
		episode_count = MAX(seasons.episode_count, excluded.episode_count)
	`, update.ShowID, update.SeasonNumber, update.EpisodeNumber)
	if err != nil {
		return fmt.Errorf("failed to ensure season %d of %d: %w", update.SeasonNumber, update.ShowID, err)
	}

	err = s.upsertEpisodeRow(tx, update.ShowID, update.SeasonNumber, EpisodeRecord{
		EpisodeNumber: update.EpisodeNumber,
		Available:     update.Available,
		LastChecked:   update.LastChecked,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit episode upsert: %w", err)
	}
	return nil
}

// ListIDs returns the external ids of the records of one type, optionally
// only those marked available
func (s *SQLiteStorage) ListIDs(contentType ContentType, availableOnly bool) ([]int64, error) {
	query := "SELECT external_id FROM content WHERE content_type = ?"
	if availableOnly {
		query += " AND available = 1"
	}
	rows, err := s.db.Query(query+" ORDER BY external_id", string(contentType))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", contentType, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Sample returns the most recently checked records of one type
func (s *SQLiteStorage) Sample(contentType ContentType, limit int) ([]ContentRecord, error) {
	if limit < 1 {
		limit = 5
	}
	rows, err := s.db.Query(`
	SELECT external_id, content_type, payload, available, last_checked
	FROM content
	WHERE content_type = ?
	ORDER BY last_checked DESC, external_id ASC
	LIMIT ?
	`, string(contentType), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", contentType, err)
	}
	defer rows.Close()

	var records []ContentRecord
	for rows.Next() {
		record, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStorage) GetDB() (*sql.DB, error) {
	if s.db == nil {
		// Open database connection if not already open
		db, err := sql.Open("sqlite3", dsn(s.dbPath))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1)
		s.db = db
	}
	return s.db, nil
}

func (s *SQLiteStorage) GetStats() (map[string]int, error) {
	stats := make(map[string]int)

	counts := []struct {
		key   string
		query string
	}{
		{"total", "SELECT COUNT(*) FROM content"},
		{"movies", "SELECT COUNT(*) FROM content WHERE content_type = 'movie'"},
		{"tvshows", "SELECT COUNT(*) FROM content WHERE content_type = 'tvshow'"},
		{"available_movies", "SELECT COUNT(*) FROM content WHERE content_type = 'movie' AND available = 1"},
		{"available_tvshows", "SELECT COUNT(*) FROM content WHERE content_type = 'tvshow' AND available = 1"},
		{"seasons", "SELECT COUNT(*) FROM seasons"},
		{"episodes", "SELECT COUNT(*) FROM episodes"},
	}

	for _, c := range counts {
		var n int
		if err := s.db.QueryRow(c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to get %s count: %w", c.key, err)
		}
		stats[c.key] = n
	}

	return stats, nil
}

func (s *SQLiteStorage) loadSeasons(externalID int64) ([]SeasonRecord, error) {
	rows, err := s.db.Query(`
	SELECT season_number, episode_count, name, air_date FROM seasons
	WHERE external_id = ? ORDER BY season_number
	`, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load seasons of %d: %w", externalID, err)
	}

	var seasons []SeasonRecord
	index := make(map[int]int)
	for rows.Next() {
		var season SeasonRecord
		if err := rows.Scan(&season.SeasonNumber, &season.EpisodeCount, &season.Name, &season.AirDate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan season: %w", err)
		}
		index[season.SeasonNumber] = len(seasons)
		seasons = append(seasons, season)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(seasons) == 0 {
		return nil, nil
	}

	rows, err = s.db.Query(`
	SELECT season_number, episode_number, available, last_checked FROM episodes
	WHERE external_id = ? ORDER BY season_number, episode_number
	`, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load episodes of %d: %w", externalID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var seasonNumber int
		var episode EpisodeRecord
		var checked int64
		if err := rows.Scan(&seasonNumber, &episode.EpisodeNumber, &episode.Available, &checked); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		episode.LastChecked = time.UnixMilli(checked)
		if i, ok := index[seasonNumber]; ok {
			seasons[i].Episodes = append(seasons[i].Episodes, episode)
		}
	}
	return seasons, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (*ContentRecord, error) {
	var record ContentRecord
	var contentType, payload string
	var checked int64
	if err := row.Scan(&record.ExternalID, &contentType, &payload, &record.Available, &checked); err != nil {
		return nil, err
	}
	record.ContentType = ContentType(contentType)
	record.Payload = json.RawMessage(payload)
	record.LastChecked = time.UnixMilli(checked)
	return &record, nil
}

func validateRecord(record ContentRecord) error {
	if record.ExternalID <= 0 {
		return fmt.Errorf("invalid external id %d", record.ExternalID)
	}
	if !record.ContentType.Valid() {
		return fmt.Errorf("invalid content type %q", record.ContentType)
	}
	if len(record.Payload) > 0 && !json.Valid(record.Payload) {
		return fmt.Errorf("payload of %d is not valid JSON", record.ExternalID)
	}
	return nil
}

func (s *SQLiteStorage) timestamp(t time.Time) int64 {
	if t.IsZero() {
		t = s.now()
	}
	return t.UnixMilli()
}

func payloadText(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "{}"
	}
	return string(payload)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Migrations returns a migration manager bound to the open database
func (s *SQLiteStorage) Migrations() (*MigrationManager, error) {
	if s.db == nil {
		return nil, errors.New("storage is not initialized")
	}
	return NewMigrationManager(s.db)
}
