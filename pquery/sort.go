package pquery

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cardstack/pgsearch/cardschema"
	"github.com/cardstack/pgsearch/pgstore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SortSpec lists field paths to sort by, a leading '-' sorts descending. It
// decodes from a single JSON string or an array of strings.
type SortSpec []string

func (ss *SortSpec) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*ss = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*ss = SortSpec{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("sort must be a string or an array of strings: %w", err)
	}
	*ss = many
	return nil
}

// Sorting always ends on the primary key so the order is total and cursors
// are unambiguous.
var sortTieBreakers = []string{
	cardschema.MetaRealm,
	cardschema.MetaOriginalRealm,
	cardschema.MetaID,
}

type sortField struct {
	path string
	desc bool
}

type Sorts struct {
	typeContext cardschema.CardID
	fields      []sortField
}

func NewSorts(typeContext cardschema.CardID, spec SortSpec) (*Sorts, error) {
	sorts := &Sorts{
		typeContext: typeContext,
		fields:      make([]sortField, 0, len(spec)+len(sortTieBreakers)),
	}
	seen := map[string]struct{}{}
	for _, raw := range spec {
		field := sortField{path: raw}
		if strings.HasPrefix(raw, "-") {
			field.path = raw[1:]
			field.desc = true
		}
		if field.path == "" {
			return nil, status.Errorf(codes.InvalidArgument, "invalid sort %q", raw)
		}
		if _, ok := seen[field.path]; ok {
			return nil, status.Errorf(codes.InvalidArgument, "duplicate sort on %s", field.path)
		}
		seen[field.path] = struct{}{}
		sorts.fields = append(sorts.fields, field)
	}
	for _, path := range sortTieBreakers {
		if _, ok := seen[path]; ok {
			continue
		}
		sorts.fields = append(sorts.fields, sortField{path: path})
	}
	return sorts, nil
}

func (s *Sorts) Len() int {
	return len(s.fields)
}

func (s *Sorts) query(field sortField) pgstore.Expression {
	return fieldQuery(s.typeContext, field.path, "sort")
}

// CursorColumns selects each sort key as cursor0..cursorN.
func (s *Sorts) CursorColumns() pgstore.Expression {
	columns := make([]pgstore.Expression, 0, len(s.fields))
	for idx, field := range s.fields {
		columns = append(columns, pgstore.Concat(s.query(field), pgstore.SQL("AS", fmt.Sprintf("cursor%d", idx))))
	}
	return pgstore.SeparatedByCommas(columns)
}

func (s *Sorts) OrderExpression() pgstore.Expression {
	keys := make([]pgstore.Expression, 0, len(s.fields))
	for _, field := range s.fields {
		direction := "asc"
		if field.desc {
			direction = "desc"
		}
		keys = append(keys, pgstore.Concat(s.query(field), pgstore.SQL(direction)))
	}
	return pgstore.Concat(pgstore.SQL("order by"), pgstore.SeparatedByCommas(keys))
}

// Cursor encodes the cursor column values of a row.
func (s *Sorts) Cursor(values []sql.NullString) (string, error) {
	if len(values) != len(s.fields) {
		return "", fmt.Errorf("cursor needs %d values, got %d", len(s.fields), len(values))
	}
	cursor := make([]*string, len(values))
	for idx, value := range values {
		if value.Valid {
			str := value.String
			cursor[idx] = &str
		}
	}
	encoded, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(encoded), nil
}

func (s *Sorts) decodeCursor(cursor string) ([]*string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid cursor: %s", err)
	}
	values := []*string{}
	if err := json.Unmarshal(decoded, &values); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid cursor: %s", err)
	}
	if len(values) != len(s.fields) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid cursor: has %d values for %d sort fields", len(values), len(s.fields))
	}
	return values, nil
}

// AfterExpression matches rows strictly after the cursor in sort order.
func (s *Sorts) AfterExpression(cursor string) (pgstore.Expression, error) {
	values, err := s.decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	return s.after(values, 0), nil
}

// after is (f > v) OR ((f = v) AND after(next)), ending in false. Nulls
// sort last ascending and first descending.
func (s *Sorts) after(values []*string, idx int) pgstore.Expression {
	if idx >= len(s.fields) {
		return pgstore.SQL("false")
	}

	field := s.fields[idx]
	query := s.query(field)
	value := values[idx]

	var beyond, equal pgstore.Expression
	if value == nil {
		equal = pgstore.Concat(query, pgstore.SQL("IS NULL"))
		if field.desc {
			beyond = pgstore.Concat(query, pgstore.SQL("IS NOT NULL"))
		} else {
			beyond = pgstore.SQL("false")
		}
	} else {
		operator := ">"
		if field.desc {
			operator = "<"
		}
		comparison := fieldValue(s.typeContext, field.path, *value)
		beyond = pgstore.Concat(query, pgstore.SQL(operator), comparison)
		if !field.desc {
			beyond = pgstore.Any([]pgstore.Expression{
				beyond,
				pgstore.Concat(query, pgstore.SQL("IS NULL")),
			})
		}
		equal = pgstore.Concat(query, pgstore.SQL("="), comparison)
	}

	return pgstore.Any([]pgstore.Expression{
		beyond,
		pgstore.Every([]pgstore.Expression{equal, s.after(values, idx+1)}),
	})
}
