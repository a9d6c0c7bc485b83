// Package sql provides a RecoveryStore on a relational database through
// GORM. SQLite serves single-node brokers; PostgreSQL lets several broker
// nodes share retained link state.
//
// Schema (created by AutoMigrate):
//
//	link_records         one row per retained link, id = "<role>/<name>"
//	retained_deliveries  one row per retained delivery, keyed by
//	                     (record_id, position)
package sql
