// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package docstore persists documents and collection ownership records.
//
// SQLRepository and SQLCatalog share one *sql.DB and support SQLite,
// PostgreSQL and MySQL. MemoryRepository keeps documents in process for
// tests and the in-memory storage backend.
package docstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

func checkDialect(dialect string) error {
	switch dialect {
	case DialectSQLite, DialectPostgres, DialectMySQL:
		return nil
	default:
		return fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate returns the row lock suffix for dialects that support it.
func forUpdate(dialect string) string {
	if dialect == DialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}
