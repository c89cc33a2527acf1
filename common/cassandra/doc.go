// Package cassandra opens a gocql session bound to one keyspace, configured
// from CASSANDRA_* environment variables, and runs registered statements
// against it.
package cassandra
