// Package connections holds the backend handles a service needs.
//
// A Connections value is built once at startup from a Config and passed to
// the components that use a backend. Each accessor builds its handle on
// first use and returns the same handle on every later call; concurrent
// first calls build it once. The configuration is captured when the
// Config is loaded, so later environment changes have no effect.
//
//	cfg, err := connections.LoadConfig(connections.BackendKafka, connections.BackendRedis)
//	if err != nil {
//	    return err
//	}
//
//	conns, err := connections.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer conns.Close(ctx)
//
//	producer, err := conns.Producer(ctx)
package connections
