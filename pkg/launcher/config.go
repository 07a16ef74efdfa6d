package launcher

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/pkg/env"
)

// BackendConfig is the session configuration handed to the application at startup.
// It is built once per scenario and passed by value; nothing mutates it afterwards.
type BackendConfig struct {
	HandlerName    string  `mapstructure:"handler" yaml:"handler"`
	SessionName    string  `mapstructure:"session_name" yaml:"session_name"`
	SavePath       string  `mapstructure:"save_path" yaml:"save_path"`
	BinaryProtocol bool    `mapstructure:"binary_protocol" yaml:"binary_protocol"`
	SASLUser       *string `mapstructure:"sasl_user" yaml:"sasl_user"`
	SASLPass       *string `mapstructure:"sasl_pass" yaml:"sasl_pass"`
}

// NewBackendConfig builds a config with the default session name. Empty SASL strings
// leave the credentials unset.
func NewBackendConfig(handler, savePath string, binary bool, saslUser, saslPass string) BackendConfig {
	cfg := BackendConfig{
		HandlerName:    handler,
		SessionName:    constants.DefaultSessionName,
		SavePath:       savePath,
		BinaryProtocol: binary,
	}
	if saslUser != "" {
		cfg.SASLUser = &saslUser
		cfg.SASLPass = &saslPass
	}
	return cfg
}

// HasSASL reports whether SASL credentials are set
func (c BackendConfig) HasSASL() bool {
	return c.SASLUser != nil
}

// User returns the SASL user or the empty string
func (c BackendConfig) User() string {
	if c.SASLUser == nil {
		return ""
	}
	return *c.SASLUser
}

// Pass returns the SASL password or the empty string
func (c BackendConfig) Pass() string {
	if c.SASLPass == nil {
		return ""
	}
	return *c.SASLPass
}

func (c BackendConfig) sessionName() string {
	if c.SessionName == "" {
		return constants.DefaultSessionName
	}
	return c.SessionName
}

// Validate rejects configs the application could not start with
func (c BackendConfig) Validate() error {
	if strings.TrimSpace(c.HandlerName) == "" {
		return fmt.Errorf("session handler name is required")
	}
	if strings.ContainsAny(c.HandlerName, " \t\n=\"") {
		return fmt.Errorf("invalid session handler name %q", c.HandlerName)
	}
	if strings.ContainsAny(c.SavePath, "\n\"") {
		return fmt.Errorf("save path must not contain quotes or newlines")
	}
	if c.SASLPass != nil && c.SASLUser == nil {
		return fmt.Errorf("sasl password set without a sasl user")
	}
	return nil
}

// RenderINI produces the sessions.ini surface read by the application
func RenderINI(c BackendConfig) string {
	var b strings.Builder
	switch c.HandlerName {
	case "memcached", "redis":
		fmt.Fprintf(&b, "extension=%s.so\n", c.HandlerName)
	}
	fmt.Fprintf(&b, "session.name=%s\n", c.sessionName())
	fmt.Fprintf(&b, "session.save_handler=%s\n", c.HandlerName)
	fmt.Fprintf(&b, "session.save_path=%q\n", c.SavePath)
	fmt.Fprintf(&b, "%s.sess_binary_protocol=%s\n", c.HandlerName, onOff(c.BinaryProtocol))
	if c.HasSASL() {
		fmt.Fprintf(&b, "%s.sess_sasl_username=%q\n", c.HandlerName, c.User())
		fmt.Fprintf(&b, "%s.sess_sasl_password=%q\n", c.HandlerName, c.Pass())
	}
	return b.String()
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}

// Env returns the launch variables as a layered env: the session settings plus port,
// config_dir and base_url when known. Keys are lower-case; templates see them as {{.env.port}}.
func (c BackendConfig) Env(configDir string, port int) *env.Env {
	e := env.New()
	e.Local["save_handler"] = c.HandlerName
	e.Local["session_name"] = c.sessionName()
	e.Local["save_path"] = c.SavePath
	e.Local["binary_protocol"] = boolFlag(c.BinaryProtocol)
	if c.HasSASL() {
		e.Local["sasl_username"] = c.User()
		e.Local["sasl_password"] = c.Pass()
	}
	if configDir != "" {
		e.Local["config_dir"] = configDir
	}
	if port > 0 {
		e.Local["port"] = strconv.Itoa(port)
		e.Local["base_url"] = "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	}
	return e
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return ""
}

// EnvVars returns the process environment exported to the application: PHP_INI_SCAN_DIR
// appends configDir to the interpreter's scan path and every setting is mirrored as SESSPROBE_*.
func EnvVars(c BackendConfig, configDir string, port int) []string {
	vars := c.Env(configDir, port).Environ(constants.EnvPrefix)
	if configDir != "" {
		vars = append([]string{"PHP_INI_SCAN_DIR=:" + configDir}, vars...)
	}
	return vars
}

// RedisSavePath builds a phpredis save path; the password is query-escaped
func RedisSavePath(host string, port int, password string) string {
	if host == "" {
		host = "127.0.0.1"
	}
	if port <= 0 {
		port = constants.DefaultRedisPort
	}
	p := "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
	if password != "" {
		p += "?auth=" + url.QueryEscape(password)
	}
	return p
}

// MemcachedSavePath joins servers with commas; no servers means the local default
func MemcachedSavePath(servers ...string) string {
	var out []string
	for _, s := range servers {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return "127.0.0.1"
	}
	return strings.Join(out, ",")
}

// SavePathFor derives the save path for a backend listening on address
func SavePathFor(handler, address, password string) string {
	switch handler {
	case "redis":
		host, portStr, err := net.SplitHostPort(address)
		if err != nil {
			return RedisSavePath(address, 0, password)
		}
		port, _ := strconv.Atoi(portStr)
		return RedisSavePath(host, port, password)
	case "memcached":
		return MemcachedSavePath(address)
	default:
		return address
	}
}
