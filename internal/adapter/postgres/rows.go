package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// rowsToMaps collects rows keyed by column name. Timestamps are returned in
// UTC so query output matches the records returned by QueryRecent.
func rowsToMaps(rows pgx.Rows) ([]map[string]any, error) {
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collecting rows: %w", err)
	}
	for _, row := range result {
		for col, v := range row {
			if t, ok := v.(time.Time); ok {
				row[col] = t.UTC()
			}
		}
	}
	return result, nil
}
