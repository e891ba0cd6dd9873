package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/pagination"
)

// keyset builds the "(created_at, id) < cursor ORDER BY ... LIMIT" tail shared by
// every list query. One extra row is fetched to detect a following page.
type keyset struct {
	size   int
	cursor pagination.Cursor
}

func newKeyset(p domain.Pagination) (keyset, error) {
	size := p.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	if size > pagination.DefaultMaxPageSize {
		size = pagination.DefaultMaxPageSize
	}
	cursor, err := pagination.DecodeToken(p.PageToken)
	if err != nil {
		return keyset{}, err
	}
	return keyset{size: size, cursor: cursor}, nil
}

// apply appends the cursor predicate and ordering to query. args already holds
// the positional arguments used by query.
func (k keyset) apply(query string, args []any, alias string) (string, []any) {
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}
	var b strings.Builder
	b.WriteString(query)
	if !k.cursor.IsZero() {
		args = append(args, k.cursor.CreatedAt, k.cursor.ID)
		fmt.Fprintf(&b, " AND (%s, %s) < ($%d, $%d::uuid)", col("created_at"), col("id"), len(args)-1, len(args))
	}
	args = append(args, k.size+1)
	fmt.Fprintf(&b, " ORDER BY %s DESC, %s DESC LIMIT $%d", col("created_at"), col("id"), len(args))
	return b.String(), args
}

// page trims the look-ahead row and encodes the next token.
func page[T any](k keyset, items []T, position func(T) (time.Time, string)) (domain.Page[T], error) {
	if len(items) <= k.size {
		return domain.Page[T]{Items: items}, nil
	}
	items = items[:k.size]
	createdAt, id := position(items[len(items)-1])
	token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt, ID: id})
	if err != nil {
		return domain.Page[T]{}, err
	}
	return domain.Page[T]{Items: items, NextPageToken: token}, nil
}
