package constant

// Environment variables read by the queue client.
const (
	EnvKafkaHost    = "KAFKA_HOST"
	EnvKafkaGroupID = "KAFKA_GROUPID"
	EnvKafkaTopic   = "KAFKA_TOPIC"
)

// Environment variables read by the cache client.
const (
	EnvRedisHost = "REDIS_HOST"
	EnvRedisPort = "REDIS_PORT"
	EnvRedisDB   = "REDIS_DB"
)

// Environment variables read by the database session.
const (
	EnvCassandraHost     = "CASSANDRA_HOST"
	EnvCassandraPort     = "CASSANDRA_PORT"
	EnvCassandraKeyspace = "CASSANDRA_KEYSPACE"
)

// Process-level variables.
const (
	EnvFile     = "ENV_FILE"
	EnvLogLevel = "LOG_LEVEL"

	// DefaultEnvFile is loaded when ENV_FILE is unset. A missing file is not an error.
	DefaultEnvFile = ".env"
)
