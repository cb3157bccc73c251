package database

import (
	"fmt"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/config"
)

type SqlDatabase struct {
	*gorm.DB
}

func New(conf *viper.Viper) (*SqlDatabase, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s password=%s sslmode=disable",
		conf.GetString(config.ConfigSQLHost),
		conf.GetInt(config.ConfigSQLPort),
		conf.GetString(config.ConfigSQLUsername),
		conf.GetString(config.ConfigSQLDBName),
		conf.GetString(config.ConfigSQLPassword),
	)

	db, err := gorm.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	s := new(SqlDatabase)
	s.DB = db
	return s, nil
}

// WrapGorm is for tests and tooling that bring their own gorm handle
// (usually in-memory sqlite).
func WrapGorm(db *gorm.DB) *SqlDatabase {
	s := new(SqlDatabase)
	s.DB = db
	return s
}
