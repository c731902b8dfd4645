package sqlitestore

import "fmt"

type queries struct {
	create string
	get    string
	set    string
	del    string
}

func newQueries(table string) queries {
	return queries{
		create: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, table),
		get: fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, table),
		set: fmt.Sprintf(`INSERT INTO %s (k, v, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = CURRENT_TIMESTAMP`, table),
		del: fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, table),
	}
}
