package db

import (
	"errors"

	mysql "github.com/go-sql-driver/mysql"

	"LIBRA-backend/internal/platform/apperr"
)

const (
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
	erDupEntry        = 1062
)

// Classify maps lock wait timeouts and deadlocks to a retryable STORAGE_CONFLICT.
// Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erLockWaitTimeout, erLockDeadlock:
			return apperr.ErrStorageConflict(err)
		}
	}
	return err
}

func IsDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}
