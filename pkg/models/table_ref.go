package models

import (
	"strings"
)

// TableRef is a schema-qualified table name with identifier quoting removed.
type TableRef struct {
	Schema string
	Name   string
}

// ParseTableRef splits a possibly qualified table name such as "[dbo].[Orders]",
// "public.orders" or "Orders". Brackets and double quotes are stripped.
// defaultSchema is used when the name carries no schema.
func ParseTableRef(name, defaultSchema string) TableRef {
	cleaned := strings.NewReplacer("[", "", "]", "", `"`, "").Replace(strings.TrimSpace(name))

	parts := strings.Split(cleaned, ".")
	if len(parts) >= 2 {
		// database.schema.table keeps the last two parts
		return TableRef{Schema: parts[len(parts)-2], Name: parts[len(parts)-1]}
	}
	return TableRef{Schema: defaultSchema, Name: cleaned}
}

// String returns the unquoted "schema.table" form.
func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// StagingRef derives the staging table for target: it lives in stagingSchema and is
// named prefix + target schema + "_" + target name, so tables with the same name in
// different schemas never share a staging table.
func StagingRef(target TableRef, stagingSchema, prefix string) TableRef {
	return TableRef{
		Schema: stagingSchema,
		Name:   prefix + target.Schema + "_" + target.Name,
	}
}
