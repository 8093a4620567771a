package pgmigrate

import (
	"bytes"
	"fmt"
	"strings"
)

type printer struct {
	buf bytes.Buffer
	gap bool
}

func newPrinter() *printer {
	return &printer{
		buf: bytes.Buffer{},
	}
}

func (p *printer) setGap() {
	p.gap = true
}

func (p *printer) p(elem ...interface{}) {
	if p.gap {
		fmt.Fprintln(&p.buf)
		p.gap = false
	}
	for _, elem := range elem {
		fmt.Fprint(&p.buf, elem)
	}
	fmt.Fprintln(&p.buf)
}

func (p *printer) bytes() []byte {
	return p.buf.Bytes()
}

func (p *printer) CreateTable(builder *CreateTableBuilder) error {
	table, err := builder.Build()
	if err != nil {
		return err
	}

	p.p("CREATE TABLE ", table.Name, " (")

	clauses := make([]string, 0, len(table.Columns)+1)
	for _, col := range table.Columns {
		line := make([]string, 2+len(col.Flags))
		line[0] = col.Name
		line[1] = col.Type
		copy(line[2:], col.Flags)
		clauses = append(clauses, strings.Join(line, " "))
	}

	if len(table.PrimaryKey) > 0 {
		clauses = append(clauses, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)", table.Constraint, strings.Join(table.PrimaryKey, ", ")))
	}

	for idx, clause := range clauses {
		suffix := ","
		if idx == len(clauses)-1 {
			suffix = ""
		}
		p.p("  ", clause, suffix)
	}
	p.p(");")
	p.setGap()

	for _, idx := range table.Indexes {
		using := ""
		if idx.Method != "" {
			using = " USING " + idx.Method
		}
		p.p("CREATE INDEX ", idx.Name, " ON ", table.Name, using, " (", strings.Join(idx.Columns, ", "), ");")
	}
	if len(table.Indexes) > 0 {
		p.setGap()
	}
	return nil
}

func (p *printer) DropTable(tableName string) {
	p.p("DROP TABLE ", tableName, ";")
	p.setGap()
}
