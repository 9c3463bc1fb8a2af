package devserver

// Config holds configuration for the local emulator.
type Config struct {
	// Addr is the listen address.
	Addr string `mapstructure:"addr" default:"127.0.0.1:54321"`
	// DB is the SQLite file; ":memory:" keeps everything in RAM.
	DB string `mapstructure:"db" default:"quicklist-dev.db"`
	// Key is the API key clients must present.
	Key string `mapstructure:"key" default:"dev-anon-key"`
	// Schema and Table name the single exposed table.
	Schema string `mapstructure:"schema" default:"public"`
	Table  string `mapstructure:"table" default:"todos"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:54321"
	}
	if c.DB == "" {
		c.DB = ":memory:"
	}
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.Table == "" {
		c.Table = "todos"
	}
	return c
}
