package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var errUnmappedColumn = errors.New("unmapped column")

// decoder maps result column names onto fields of T.
type decoder[T any] struct {
	entity string
	fields map[string]func(*T) any
}

func (d decoder[T]) decode(rows *sql.Rows, columns []string) (T, error) {
	var item T
	dest := make([]any, len(columns))
	for i, column := range columns {
		field, ok := d.fields[column]
		if !ok {
			return item, &DecodeError{Entity: d.entity, Column: column, Err: errUnmappedColumn}
		}
		dest[i] = field(&item)
	}
	if err := rows.Scan(dest...); err != nil {
		return item, &DecodeError{Entity: d.entity, Err: err}
	}
	return item, nil
}

// unixTime scans BIGINT unix seconds into a time.Time.
type unixTime struct{ t *time.Time }

func (u unixTime) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*u.t = time.Unix(v, 0).UTC()
	case nil:
		*u.t = time.Time{}
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

// nullString scans a nullable TEXT column into a string, NULL becoming "".
type nullString struct{ s *string }

func (n nullString) Scan(src any) error {
	var value sql.NullString
	if err := value.Scan(src); err != nil {
		return err
	}
	*n.s = value.String
	return nil
}
