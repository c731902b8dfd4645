package sqlitestore

const defaultTable = "relink_queue"

// Config defines SQLite store behavior.
type Config struct {
	// Table names the key-value table.
	Table string
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}

	return c
}

// Option configures the SQLite store.
type Option func(*Config)

// WithTable sets the key-value table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}
