package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const imageColumns = `fileid, content_type, width, height, ranges, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*Image, error) {
	var (
		img              Image
		ranges           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&img.FileID, &img.ContentType, &img.Width, &img.Height, &ranges, &created, &updated); err != nil {
		return nil, err
	}
	if ranges.Valid && ranges.String != "" {
		if err := json.Unmarshal([]byte(ranges.String), &img.Ranges); err != nil {
			return nil, fmt.Errorf("corrupt ranges of %s: %w", img.FileID, err)
		}
	}
	img.CreatedAt = time.Unix(created, 0)
	img.UpdatedAt = time.Unix(updated, 0)
	return &img, nil
}

// InsertImage records a new upload. Width and height may be zero and set
// later with SetSize.
func (d *Database) InsertImage(ctx context.Context, img *Image) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_image", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = d.db.ExecContext(ctx, `
		INSERT INTO images (fileid, content_type, width, height)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fileid) DO NOTHING
	`, img.FileID, img.ContentType, img.Width, img.Height)
	if err != nil {
		return fmt.Errorf("failed to insert image %s: %w", img.FileID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", img.FileID, ErrExists)
	}
	return nil
}

// GetImage returns the image with fileid or ErrNotFound.
func (d *Database) GetImage(ctx context.Context, fileid string) (*Image, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_image", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var img *Image
	img, err = scanImage(d.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE fileid = ?`, fileid))
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, fmt.Errorf("%s: %w", fileid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image %s: %w", fileid, err)
	}
	return img, nil
}

// SetSize records the pixel size of the original. It fails with
// ErrSizeAlreadySet when a size is already recorded.
func (d *Database) SetSize(ctx context.Context, fileid string, width, height int) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_size", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = d.db.ExecContext(ctx, `
		UPDATE images SET width = ?, height = ?, updated_at = strftime('%s', 'now')
		WHERE fileid = ? AND width = 0 AND height = 0
	`, width, height, fileid)
	if err != nil {
		return fmt.Errorf("failed to set size of %s: %w", fileid, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, getErr := d.GetImage(ctx, fileid); getErr != nil {
		return getErr
	}
	return fmt.Errorf("%s: %w", fileid, ErrSizeAlreadySet)
}

// OverrideSize replaces the recorded size and clears the computed ranges,
// which depend on it.
func (d *Database) OverrideSize(ctx context.Context, fileid string, width, height int) error {
	return d.update(ctx, "override_size", fileid, `
		UPDATE images SET width = ?, height = ?, ranges = NULL, updated_at = strftime('%s', 'now')
		WHERE fileid = ?
	`, width, height, fileid)
}

// SetRanges stores the computed zoom range.
func (d *Database) SetRanges(ctx context.Context, fileid string, ranges []int) error {
	encoded, err := json.Marshal(ranges)
	if err != nil {
		return fmt.Errorf("failed to encode ranges: %w", err)
	}
	return d.update(ctx, "set_ranges", fileid, `
		UPDATE images SET ranges = ?, updated_at = strftime('%s', 'now')
		WHERE fileid = ?
	`, string(encoded), fileid)
}

// DeleteImage removes the row of fileid. Derived files are the caller's
// concern.
func (d *Database) DeleteImage(ctx context.Context, fileid string) error {
	return d.update(ctx, "delete_image", fileid, `DELETE FROM images WHERE fileid = ?`, fileid)
}

// update runs a single-row statement and maps "no row" to ErrNotFound.
func (d *Database) update(ctx context.Context, operation, fileid, query string, args ...any) error {
	start := time.Now()
	var err error
	defer func() { recordQuery(operation, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res sql.Result
	res, err = d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", operation, fileid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", fileid, ErrNotFound)
	}
	return nil
}

// ListImages returns images newest first.
func (d *Database) ListImages(ctx context.Context, limit, offset int) ([]Image, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_images", start, err) }()

	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY created_at DESC, fileid LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img *Image
		img, err = scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}
	err = rows.Err()
	return images, err
}

// Count returns the number of images in the catalog.
func (d *Database) Count(ctx context.Context) (int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("count_images", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n)
	return n, err
}
