package mssql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

// defaultSchema is applied to unqualified table names.
const defaultSchema = "dbo"

// binaryCollation makes string key comparison in MERGE case- and accent-sensitive.
const binaryCollation = "Latin1_General_BIN2"

var (
	// @lastRunDate, not @lastRunDateUtc
	placeholderPattern = regexp.MustCompile(`(?i)@` + datasource.WatermarkPlaceholder + `\b`)
)

// parseTable parses a table name that may include schema.
// SQL Server format: [schema].[table] or schema.table. Defaults to "dbo".
func parseTable(tableName string) models.TableRef {
	return models.ParseTableRef(tableName, defaultSchema)
}

// escapeStringLiteral escapes a string for use in SQL Server string literals.
// In SQL Server, single quotes are escaped by doubling them.
func escapeStringLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// quoteName is the client-side equivalent of QUOTENAME(): square brackets with ] doubled.
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return fmt.Sprintf("[%s]", escaped)
}

// quoteTable builds a fully qualified table name: [schema].[table]
func quoteTable(t models.TableRef) string {
	return fmt.Sprintf("%s.%s", quoteName(t.Schema), quoteName(t.Name))
}

// hasWatermarkPlaceholder reports whether query references @lastRunDate.
func hasWatermarkPlaceholder(query string) bool {
	return placeholderPattern.MatchString(query)
}

// trimQuery strips surrounding whitespace and trailing semicolons so the query can be
// nested in a derived table. The body is left byte for byte as written.
func trimQuery(query string) string {
	return strings.TrimSpace(strings.TrimRight(query, "; \t\r\n"))
}

// maxColumnExpr quotes a bare column name. A dotted reference such as T.UpdatedAt is
// used verbatim so callers can address the derived table alias.
func maxColumnExpr(column string) string {
	column = strings.TrimSpace(column)
	if strings.Contains(column, ".") || strings.HasPrefix(column, "[") {
		return column
	}
	return quoteName(column)
}

// isStringType returns true if the type is a string type in SQL Server.
func isStringType(sqlType string) bool {
	switch strings.ToUpper(sqlType) {
	case "CHAR", "NCHAR", "VARCHAR", "NVARCHAR", "TEXT", "NTEXT", "XML":
		return true
	}
	return false
}

// isDecimalType returns true for types the driver scans as []byte text.
// Bulk copy rejects []byte for these, so they are passed on as strings.
func isDecimalType(sqlType string) bool {
	switch strings.ToUpper(sqlType) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return true
	}
	return false
}
