// Package db embeds the PostgreSQL migrations shared by order-server,
// promo-server and the seeding tools.
package db

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migration is one embedded SQL file.
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the embedded migrations ordered by file name.
// Every statement is idempotent, so the full list is applied on each start.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := migrations.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Name: name, SQL: string(data)})
	}
	return out, nil
}
