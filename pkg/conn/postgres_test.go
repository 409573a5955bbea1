package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://localhost:5432?sslmode=disable", Option{}.DSN())

	opt := Option{
		Host:     "db",
		Port:     6432,
		User:     "trader",
		Password: "p@ss",
		Database: "journal",
		Params:   map[string]string{"application_name": "hftcore", "": "skip"},
	}
	assert.Equal(t, "postgres://trader:p%40ss@db:6432/journal?application_name=hftcore&sslmode=disable", opt.DSN())

	assert.Equal(t, "host=x", Option{ConnString: "host=x", Host: "ignored"}.DSN())
}
