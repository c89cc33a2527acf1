package constant

// TelemetryLibraryName identifies this module in OpenTelemetry scopes.
const TelemetryLibraryName = "github.com/Evantastic/distribuidos-12020-common"

// MaxMetricLabelLength bounds metric label values to keep cardinality low.
const MaxMetricLabelLength = 64

// Telemetry attribute keys.
const (
	AttrDBSystem        = "db.system"
	AttrDBName          = "db.name"
	AttrMessagingSystem = "messaging.system"
	AttrMessagingDest   = "messaging.destination.name"
	AttrOperation       = "operation"
	AttrResult          = "result"
)

// System identifiers used as values for AttrDBSystem and AttrMessagingSystem.
const (
	DBSystemRedis     = "redis"
	DBSystemCassandra = "cassandra"
	MessagingKafka    = "kafka"
)

// SanitizeMetricLabel truncates a label value to MaxMetricLabelLength.
func SanitizeMetricLabel(value string) string {
	if len(value) > MaxMetricLabelLength {
		return value[:MaxMetricLabelLength]
	}

	return value
}
