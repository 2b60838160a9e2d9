// Package testdb provides utilities for database integration tests.
//
// Tests get a migrated connection from GetTestDBWithT, which skips the test
// when no database URL is configured, and isolate their writes with WithTx,
// which rolls the transaction back when the test function returns.
//
//	func TestSomething(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        jobs := postgres.NewPostgresJobStore(tx, nil)
//	        ...
//	    })
//	}
//
// The database URL is read from DATABASE_URL, falling back to
// TUNESMITH_TEST_DB_URL.
package testdb
