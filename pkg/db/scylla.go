package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"
)

type Session struct {
	*gocql.Session
}

func newCluster(hosts []string, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}
	return cluster
}

func NewSession(log zerolog.Logger, hosts []string, keyspace string) (*Session, error) {
	session, err := newCluster(hosts, keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla %v: %w", hosts, err)
	}

	log.Info().Strs("hosts", hosts).Str("keyspace", keyspace).Msg("connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}

// EnsureKeyspace creates keyspace through a session bound to the system
// keyspace, then closes it.
func EnsureKeyspace(log zerolog.Logger, hosts []string, keyspace string, replication int) error {
	sys, err := NewSession(log, hosts, "system")
	if err != nil {
		return err
	}
	defer sys.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replication)
	if err := sys.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}
