// Package linkstate defines the retained state of a suspended link and the
// RecoveryStore interface used to keep it between a detach that expects a
// reattach and the reattach itself.
//
// Import graph: linkstate <- link <- session; store implementations live in
// sub-packages (memory, badger, sql) so callers only pull in the driver they
// configure.
package linkstate
