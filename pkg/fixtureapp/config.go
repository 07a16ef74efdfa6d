package fixtureapp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/internal/util"
	"github.com/loykin/sessprobe/pkg/fixture"
	"github.com/loykin/sessprobe/pkg/launcher"
)

// Config is the session configuration the reference application reports and uses
type Config struct {
	SaveHandler    string
	SessionName    string
	SavePath       string
	BinaryProtocol bool
	SASLUser       string
	SASLPass       string
	// Extensions lists the session extensions considered loaded (memcached, redis)
	Extensions []string
	SessionTTL time.Duration
	BoolMode   fixture.BoolMode
}

// FromBackendConfig converts a launch configuration
func FromBackendConfig(c launcher.BackendConfig) Config {
	return Config{
		SaveHandler:    c.HandlerName,
		SessionName:    c.SessionName,
		SavePath:       c.SavePath,
		BinaryProtocol: c.BinaryProtocol,
		SASLUser:       c.User(),
		SASLPass:       c.Pass(),
		Extensions:     []string{"memcached", "redis"},
	}
}

// LoadConfig reads the SESSPROBE_* variables exported by the launcher
func LoadConfig(lookup func(string) (string, bool)) (Config, error) {
	get := func(k string) string {
		v, _ := lookup(constants.EnvPrefix + k)
		return v
	}
	cfg := Config{
		SaveHandler:    get("SAVE_HANDLER"),
		SessionName:    get("SESSION_NAME"),
		SavePath:       get("SAVE_PATH"),
		BinaryProtocol: truthy(get("BINARY_PROTOCOL")),
		SASLUser:       get("SASL_USERNAME"),
		SASLPass:       get("SASL_PASSWORD"),
		Extensions:     []string{"memcached", "redis"},
	}
	if exts, ok := lookup(constants.EnvPrefix + "EXTENSIONS"); ok {
		cfg.Extensions = util.SplitList(exts)
	}
	if mode := get("BOOL_MODE"); mode != "" {
		m, err := fixture.ParseBoolMode(mode)
		if err != nil {
			return Config{}, err
		}
		cfg.BoolMode = m
	}
	if ttl := get("SESSION_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %sSESSION_TTL: %w", constants.EnvPrefix, err)
		}
		cfg.SessionTTL = d
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.SaveHandler == "" {
		c.SaveHandler = "memory"
	}
	if c.SessionName == "" {
		c.SessionName = constants.DefaultSessionName
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	return c
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "off", "false", "no":
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return true
	}
	return b
}

func (c Config) loaded(ext string) bool {
	for _, e := range c.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Pairs renders the configuration as fixture lines. Binary protocol and SASL settings belong
// to the memcached extension and read as unset under any other handler.
func (c Config) Pairs() []fixture.Pair {
	memcached := c.SaveHandler == "memcached"
	binary := false
	user, pass := "", ""
	if memcached {
		binary = c.BinaryProtocol
		user, pass = c.SASLUser, c.SASLPass
	}
	return []fixture.Pair{
		{Label: fixture.LabelRedisLoaded, Value: c.BoolMode.Format(c.loaded("redis"))},
		{Label: fixture.LabelMemcachedLoaded, Value: c.BoolMode.Format(c.loaded("memcached"))},
		{Label: fixture.LabelSessionHandler, Value: c.SaveHandler},
		{Label: fixture.LabelSessionName, Value: c.SessionName},
		{Label: fixture.LabelSessionSavePath, Value: c.SavePath},
		{Label: fixture.LabelBinaryProtocol, Value: c.BoolMode.Format(binary)},
		{Label: fixture.LabelSASLUser, Value: user},
		{Label: fixture.LabelSASLPass, Value: pass},
	}
}
