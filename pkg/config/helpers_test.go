package config

import (
	"github.com/marmos91/dittomq/pkg/linkstate/badger"
	"github.com/marmos91/dittomq/pkg/linkstate/sql"
)

func badgerInMemory() badger.Config { return badger.Config{InMemory: true} }

func sqliteAt(path string) sql.SQLiteConfig { return sql.SQLiteConfig{Path: path} }
