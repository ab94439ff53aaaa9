package postgres

import (
	"fmt"

	"github.com/utafrali/catalogsearch/internal/repository"
	"github.com/utafrali/catalogsearch/pkg/database"
)

// wrapErr annotates err with op and maps missing-relation errors to
// repository.ErrSchemaNotReady.
func wrapErr(op string, err error) error {
	if database.IsUndefinedTable(err) {
		return fmt.Errorf("%s: %w: %w", op, repository.ErrSchemaNotReady, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
