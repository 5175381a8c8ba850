// Package subscription provides the Subscription Store and Plan Catalog
// implementations used by pkg/subscription: PostgreSQL for production and an
// in-memory variant for tests and local development.
//
// Both stores serialize Upsert per user. PostgresStore locks the user's row
// (SELECT ... FOR UPDATE) inside a read-committed transaction and relies on
// the unique user_id constraint for racing inserts; a losing insert restarts
// the transaction through pg.WithTx. MemoryStore keeps one mutex per user.
package subscription
