// Package postgres is the durable credential store.
//
// [Store] runs on any [DB], which both *pgxpool.Pool and pgxmock pools
// satisfy. Schema changes ship as embedded goose migrations applied by
// [Migrate].
//
// Single-row guarantees rely on conditional statements: a device session
// is revoked only while is_revoked is false, a backup code is removed only
// while present, and a reset token is consumed inside one transaction
// together with the password update.
package postgres
