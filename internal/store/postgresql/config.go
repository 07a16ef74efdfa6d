package postgresql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/internal/util"
)

type Config struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// ConnString prefers an explicit DSN and otherwise builds one from the components
func (p Config) ConnString() (string, error) {
	if dsn, ok := util.TrimEmptyCheck(p.DSN); ok {
		return dsn, nil
	}
	host, ok := util.TrimEmptyCheck(p.Host)
	if !ok {
		return "", fmt.Errorf("postgres store requires dsn or host")
	}
	port := p.Port
	if port == 0 {
		port = constants.DefaultPostgresPort
	}
	fields := util.TrimSpaceFields(p.User, p.Password, p.DBName)
	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/" + fields[2],
		RawQuery: "sslmode=" + url.QueryEscape(util.TrimWithDefault(p.SSLMode, constants.DefaultPostgresSSLMode)),
	}
	if fields[0] != "" {
		u.User = url.UserPassword(fields[0], fields[1])
	}
	return u.String(), nil
}
