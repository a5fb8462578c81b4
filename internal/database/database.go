package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Mykey001/Mt5-brigde/internal/accounts"
)

// NewDatabase opens the registry database and migrates the mirror schema.
// Foreign keys are enabled so account deletes cascade at the engine level
// as well.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&accounts.Account{},
		&accounts.Position{},
		&accounts.Order{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
