package schema

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// createTableOptions controls how a CREATE TABLE statement is rendered.
type createTableOptions struct {
	// inlineForeignKeys renders FOREIGN KEY clauses inside the statement.
	inlineForeignKeys bool
	// bare drops defaults, NOT NULL, UNIQUE and every constraint but the primary key.
	bare bool
	// typeOverrides replaces declared column types by column name.
	typeOverrides map[string]string
}

func createTableSQL(d ModelDescriptor, o createTableOptions) string {
	defs := make([]string, 0, len(d.Columns)+len(d.ForeignKeys)+1)
	for _, c := range d.Columns {
		typ := c.Type
		if t, ok := o.typeOverrides[c.Name]; ok {
			typ = t
		}
		defs = append(defs, columnDefinition(c, typ, o.bare))
	}

	if pk := d.PrimaryKey(); len(pk) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(pk)))
	}

	if o.inlineForeignKeys && !o.bare {
		for _, fk := range d.ForeignKeys {
			defs = append(defs, "CONSTRAINT "+quoteIdent(fk.ConstraintName(d.Table))+" "+foreignKeyClause(fk))
		}
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdent(d.Table), strings.Join(defs, ",\n\t"))
}

func columnDefinition(c Column, typ string, bare bool) string {
	var b strings.Builder
	b.WriteString(quoteIdent(c.Name))
	b.WriteByte(' ')
	b.WriteString(typ)
	if bare {
		return b.String()
	}
	if c.NotNull && !c.PrimaryKey {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

func addColumnSQL(table string, c Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
		quoteIdent(table), columnDefinition(c, c.Type, false))
}

func addForeignKeySQL(table string, fk ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s",
		quoteIdent(table), quoteIdent(fk.ConstraintName(table)), foreignKeyClause(fk))
}

func foreignKeyClause(fk ForeignKey) string {
	clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
		quoteIdent(fk.Column), quoteIdent(fk.RefTable), quoteIdent(fk.ReferencedColumn()))
	if fk.OnDelete != "" {
		clause += " ON DELETE " + fk.OnDelete
	}
	return clause
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
