package dbexec

import "fmt"

// Connection selects which pool a query without a transaction runs on.
type Connection int

const (
	Primary Connection = iota
	Replica
)

func (c Connection) String() string {
	switch c {
	case Primary:
		return "primary"
	case Replica:
		return "replica"
	default:
		return fmt.Sprintf("connection(%d)", int(c))
	}
}

// Pool holds the primary executor and an optional read replica.
type Pool struct {
	Primary QueryExecutor
	Replica QueryExecutor
}

// For returns the executor for conn. Replica falls back to the primary when
// no replica is configured.
func (p Pool) For(conn Connection) QueryExecutor {
	if conn == Replica && p.Replica != nil {
		return p.Replica
	}
	return p.Primary
}

// Begin opens a transaction on the primary.
func (p Pool) Begin() (Beginner, error) {
	b, ok := p.Primary.(Beginner)
	if !ok {
		return nil, fmt.Errorf("primary executor %T cannot begin transactions", p.Primary)
	}
	return b, nil
}
