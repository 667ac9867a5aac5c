package snowflake

import "strings"

// Config holds Snowflake warehouse configuration for the demographic source.
type Config struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Table     string `yaml:"table"`
}

// DefaultTable is read when Config.Table is empty.
const DefaultTable = "HOUSEHOLD_DEMOGRAPHICS"

// DSN renders the gosnowflake data source name:
// user:password@account/database/schema?warehouse=xxx
func (c Config) DSN() string {
	dsn := c.User + ":" + c.Password + "@" + c.Account + "/" + c.Database + "/" + c.Schema
	if c.Warehouse != "" {
		dsn += "?warehouse=" + c.Warehouse
	}
	return dsn
}

// ParseConnectionString extracts components from an ODBC-style connection
// string. Format: scheme=https;ACCOUNT=xxx;HOST=yyy;USER=zzz;PASSWORD=www;DB=aaa.bbb;WAREHOUSE=ccc
func ParseConnectionString(connStr string) Config {
	parts := make(map[string]string)
	for _, kv := range strings.Split(connStr, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		parts[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	database, schema, _ := strings.Cut(parts["DB"], ".")
	return Config{
		Account:   parts["ACCOUNT"],
		User:      parts["USER"],
		Password:  parts["PASSWORD"],
		Database:  database,
		Schema:    schema,
		Warehouse: parts["WAREHOUSE"],
	}
}
