package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const mediaColumns = "id, title, kind, origin, subscription_id, source_url, blob_key, duration_seconds, fingerprint, canonical_id, transcript, segments_json, summary, tags_json, embedding_json, status, version, created_at, updated_at"

// CreateMedia inserts a new media item, assigning an identifier and
// timestamps when absent.
func (s *Store) CreateMedia(ctx context.Context, item *MediaItem) error {
	if item == nil {
		return errors.New("media item is nil")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = MediaPending
	}
	if item.Origin == "" {
		item.Origin = OriginManual
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Version = 1

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO media_items (`+mediaColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		nullableString(item.Title),
		item.Kind,
		item.Origin,
		nullableString(item.SubscriptionID),
		nullableString(item.SourceURL),
		nullableString(item.BlobKey),
		item.DurationSeconds,
		nullableString(item.Fingerprint),
		nullableString(item.CanonicalID),
		nullableString(item.Transcript),
		nullableString(item.SegmentsJSON),
		nullableString(item.Summary),
		nullableString(item.TagsJSON),
		nullableString(item.EmbeddingJSON),
		item.Status,
		item.Version,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert media item: %w", err)
	}
	return nil
}

// GetMedia fetches a media item by identifier.
func (s *Store) GetMedia(ctx context.Context, id string) (*MediaItem, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+mediaColumns+` FROM media_items WHERE id = ?`, id)
	item, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media item: %w", err)
	}
	return item, nil
}

// UpdateMedia persists changes to a media item. The write succeeds only when
// the stored version still matches item.Version; on success the version is
// bumped, on a lost race ErrConflict is returned.
func (s *Store) UpdateMedia(ctx context.Context, item *MediaItem) error {
	if item == nil {
		return errors.New("media item is nil")
	}
	expected := item.Version
	now := time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`UPDATE media_items
         SET title = ?, kind = ?, origin = ?, subscription_id = ?, source_url = ?,
             blob_key = ?, duration_seconds = ?, fingerprint = ?, canonical_id = ?,
             transcript = ?, segments_json = ?, summary = ?, tags_json = ?,
             embedding_json = ?, status = ?, version = ?, updated_at = ?
         WHERE id = ? AND version = ?`,
		nullableString(item.Title),
		item.Kind,
		item.Origin,
		nullableString(item.SubscriptionID),
		nullableString(item.SourceURL),
		nullableString(item.BlobKey),
		item.DurationSeconds,
		nullableString(item.Fingerprint),
		nullableString(item.CanonicalID),
		nullableString(item.Transcript),
		nullableString(item.SegmentsJSON),
		nullableString(item.Summary),
		nullableString(item.TagsJSON),
		nullableString(item.EmbeddingJSON),
		item.Status,
		expected+1,
		now.Format(time.RFC3339Nano),
		item.ID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("update media item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetMedia(ctx, item.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	item.Version = expected + 1
	item.UpdatedAt = now
	return nil
}

// FindByFingerprint returns the oldest non-duplicate, non-error media item
// owning a fingerprint, or ErrNotFound when no such item exists.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*MediaItem, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+mediaColumns+` FROM media_items
         WHERE fingerprint = ? AND status NOT IN (?, ?)
         ORDER BY created_at LIMIT 1`,
		fingerprint,
		MediaDuplicate,
		MediaError,
	)
	item, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return item, nil
}

// ListMedia returns media items filtered by status (all items when no status
// is provided), newest first, optionally limited.
func (s *Store) ListMedia(ctx context.Context, limit int, statuses ...MediaStatus) ([]*MediaItem, error) {
	query := `SELECT ` + mediaColumns + ` FROM media_items`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list media items: %w", err)
	}
	defer rows.Close()

	var items []*MediaItem
	for rows.Next() {
		item, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteMedia removes a media item and (via cascade) its jobs.
func (s *Store) DeleteMedia(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM media_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete media item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanMedia(scanner interface{ Scan(dest ...any) error }) (*MediaItem, error) {
	var (
		id             string
		title          sql.NullString
		kind           string
		origin         string
		subscriptionID sql.NullString
		sourceURL      sql.NullString
		blobKey        sql.NullString
		duration       sql.NullFloat64
		fingerprint    sql.NullString
		canonicalID    sql.NullString
		transcript     sql.NullString
		segments       sql.NullString
		summary        sql.NullString
		tags           sql.NullString
		embedding      sql.NullString
		statusStr      string
		version        int64
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&kind,
		&origin,
		&subscriptionID,
		&sourceURL,
		&blobKey,
		&duration,
		&fingerprint,
		&canonicalID,
		&transcript,
		&segments,
		&summary,
		&tags,
		&embedding,
		&statusStr,
		&version,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &MediaItem{
		ID:              id,
		Title:           title.String,
		Kind:            MediaKind(kind),
		Origin:          MediaOrigin(origin),
		SubscriptionID:  subscriptionID.String,
		SourceURL:       sourceURL.String,
		BlobKey:         blobKey.String,
		DurationSeconds: duration.Float64,
		Fingerprint:     fingerprint.String,
		CanonicalID:     canonicalID.String,
		Transcript:      transcript.String,
		SegmentsJSON:    segments.String,
		Summary:         summary.String,
		TagsJSON:        tags.String,
		EmbeddingJSON:   embedding.String,
		Status:          MediaStatus(statusStr),
		Version:         version,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}
