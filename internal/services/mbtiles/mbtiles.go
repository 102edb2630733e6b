package mbtiles

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"planetarble/internal/services"
)

// Info summarizes an MBTiles archive: its metadata table and the shape of
// its tile pyramid.
type Info struct {
	Metadata  map[string]string
	TileCount int64
	MinZoom   int
	MaxZoom   int
}

// Inspect opens an MBTiles archive read-only and validates its structure.
// An archive with no tiles, or one that is not a SQLite database at all,
// yields a validation error.
func Inspect(ctx context.Context, path string) (Info, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return Info{}, services.Wrap(services.ErrValidation, "tile", "open mbtiles", path, err)
	}
	defer db.Close()

	info := Info{Metadata: make(map[string]string)}

	rows, err := db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return Info{}, services.Wrap(services.ErrValidation, "tile", "read mbtiles metadata", path, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Info{}, services.Wrap(services.ErrValidation, "tile", "read mbtiles metadata", path, err)
		}
		info.Metadata[name] = value
	}
	if err := rows.Err(); err != nil {
		return Info{}, services.Wrap(services.ErrValidation, "tile", "read mbtiles metadata", path, err)
	}

	row := db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MIN(zoom_level), 0), COALESCE(MAX(zoom_level), 0) FROM tiles`)
	if err := row.Scan(&info.TileCount, &info.MinZoom, &info.MaxZoom); err != nil {
		return Info{}, services.Wrap(services.ErrValidation, "tile", "count tiles", path, err)
	}
	if info.TileCount == 0 {
		return Info{}, services.Wrap(services.ErrValidation, "tile", "count tiles",
			fmt.Sprintf("%s contains no tiles", path), nil)
	}
	return info, nil
}

// ExpectZoomRange checks that the archive covers zoom levels 0 through
// maxZoom inclusive.
func (i Info) ExpectZoomRange(maxZoom int) error {
	if i.MinZoom != 0 || i.MaxZoom != maxZoom {
		return services.Wrap(services.ErrValidation, "tile", "zoom range",
			fmt.Sprintf("archive spans z%d-z%d, want z0-z%d", i.MinZoom, i.MaxZoom, maxZoom), nil)
	}
	return nil
}
