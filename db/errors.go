package db

import "fmt"

// Common errors
var (
	ErrScoreNotFound      = fmt.Errorf("score not found")
	ErrInvalidInput       = fmt.Errorf("invalid input")
	ErrDatabaseConnection = fmt.Errorf("database connection error")
	ErrTransactionFailed  = fmt.Errorf("transaction failed")
)
