package errors

import (
	stderrors "errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"

	mysqlRowIsReferenced = 1451
	mysqlNoReferencedRow = 1452
	mysqlDuplicateEntry  = 1062
)

// FromDB maps a persistence error to an *Error. notFound is the message used
// for gorm.ErrRecordNotFound. Unknown errors become internal errors.
func FromDB(err error, notFound string) *Error {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	switch {
	case stderrors.Is(err, gorm.ErrRecordNotFound):
		return NotFound(notFound)
	case stderrors.Is(err, gorm.ErrForeignKeyViolated):
		return ConstraintViolation("Referenced record does not exist or is still in use", err)
	case stderrors.Is(err, gorm.ErrDuplicatedKey):
		return ConstraintViolation("Record already exists", err)
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return ConstraintViolation("Referenced record does not exist or is still in use", err)
		case pgUniqueViolation:
			return ConstraintViolation("Record already exists", err)
		}
	}

	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlRowIsReferenced, mysqlNoReferencedRow:
			return ConstraintViolation("Referenced record does not exist or is still in use", err)
		case mysqlDuplicateEntry:
			return ConstraintViolation("Record already exists", err)
		}
	}

	return Internal("Database error", err)
}

// IsForeignKeyViolation reports whether err is a referential integrity failure.
func IsForeignKeyViolation(err error) bool {
	if stderrors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return true
	}
	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) {
		return myErr.Number == mysqlRowIsReferenced || myErr.Number == mysqlNoReferencedRow
	}
	return false
}
