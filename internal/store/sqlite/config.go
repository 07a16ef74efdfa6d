package sqlite

import (
	"fmt"
	"net/url"

	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/internal/util"
)

const busyTimeoutMS = 5000

type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DSN builds a modernc sqlite DSN with a busy timeout and foreign keys enabled
func (c Config) DSN() string {
	path := util.TrimWithDefault(c.Path, constants.DefaultSQLitePath)
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}
