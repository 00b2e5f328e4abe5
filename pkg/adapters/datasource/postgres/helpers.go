package postgres

import (
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

const defaultSchema = "public"

var (
	placeholderPattern = regexp.MustCompile(`(?i)@` + datasource.WatermarkPlaceholder + `\b`)
)

func parseTable(tableName string) models.TableRef {
	return models.ParseTableRef(tableName, defaultSchema)
}

// quoteIdent quotes a single identifier.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// qualifiedTableName returns "schema"."table".
func qualifiedTableName(t models.TableRef) string {
	if t.Schema == "" {
		return quoteIdent(t.Name)
	}
	return pgx.Identifier{t.Schema, t.Name}.Sanitize()
}

// canonicalPlaceholder rewrites any casing of @lastRunDate to the exact name
// pgx.NamedArgs looks up.
func canonicalPlaceholder(query string) string {
	return placeholderPattern.ReplaceAllLiteralString(query, "@"+datasource.WatermarkPlaceholder)
}

func hasWatermarkPlaceholder(query string) bool {
	return placeholderPattern.MatchString(query)
}

// trimQuery strips surrounding whitespace and trailing semicolons so the query can be
// nested in a subquery. The body is left byte for byte as written.
func trimQuery(query string) string {
	return strings.TrimSpace(strings.TrimRight(query, "; \t\r\n"))
}

// maxColumnExpr quotes a bare column; a dotted or already quoted reference is kept.
func maxColumnExpr(column string) string {
	column = strings.TrimSpace(column)
	if strings.Contains(column, ".") || strings.HasPrefix(column, `"`) {
		return column
	}
	return quoteIdent(column)
}
