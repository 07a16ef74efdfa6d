package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/loykin/sessprobe/internal/common"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// container is a backend process running under Docker via testcontainers
type container struct {
	c       tc.Container
	address string
}

func containerPort(t Type) string {
	if t == TypeRedis {
		return "6379/tcp"
	}
	return "11211/tcp"
}

func containerCmd(spec Spec) []string {
	switch spec.Type {
	case TypeRedis:
		if spec.Password != "" {
			return []string{"redis-server", "--requirepass", spec.Password}
		}
		return nil
	default:
		// -S turns the text protocol off entirely
		if spec.SASL {
			return []string{"memcached", "-S"}
		}
		return nil
	}
}

// Memcached built with --enable-sasl-pwdb checks PLAIN logins against MEMCACHED_SASL_PWDB,
// reading the file on every authentication, so users can be added while it runs.
const (
	saslConfDir  = "/etc/sessprobe/sasl"
	saslConfPath = saslConfDir + "/memcached.conf"
	saslPwdbPath = saslConfDir + "/memcached-sasl-pwdb"
)

// saslPwdb renders user:password lines in a stable order
func saslPwdb(users map[string]string) []byte {
	names := make([]string, 0, len(users))
	for u := range users {
		names = append(names, u)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, u := range names {
		fmt.Fprintf(&b, "%s:%s\n", u, users[u])
	}
	return []byte(b.String())
}

func saslFiles(spec Spec) ([]tc.ContainerFile, map[string]string) {
	if spec.Type != TypeMemcached || !spec.SASL {
		return nil, nil
	}
	files := []tc.ContainerFile{
		{Reader: strings.NewReader("mech_list: plain\n"), ContainerFilePath: saslConfPath, FileMode: 0o644},
		{Reader: bytes.NewReader(saslPwdb(map[string]string{spec.Username: spec.Password})), ContainerFilePath: saslPwdbPath, FileMode: 0o644},
	}
	env := map[string]string{"SASL_CONF_PATH": saslConfDir, "MEMCACHED_SASL_PWDB": saslPwdbPath}
	return files, env
}

func startContainer(ctx context.Context, spec Spec) (*container, error) {
	logger := common.GetLogger().WithComponent("backend").WithBackend(string(spec.Type))
	port := containerPort(spec.Type)

	files, env := saslFiles(spec)
	req := tc.ContainerRequest{
		Image:        spec.Image,
		ExposedPorts: []string{port},
		Cmd:          containerCmd(spec),
		Env:          env,
		Files:        files,
		WaitingFor:   wait.ForListeningPort(nat.Port(port)).WithStartupTimeout(60 * time.Second),
	}
	logger.Debug("starting container", "image", spec.Image, "port", port)

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		if c != nil {
			_ = c.Terminate(context.WithoutCancel(ctx))
		}
		return nil, fmt.Errorf("start %s container: %w", spec.Image, err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("container host: %w", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		_ = c.Terminate(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("container port: %w", err)
	}

	addr := net.JoinHostPort(host, mapped.Port())
	logger.Info("container ready", "image", spec.Image, "address", addr)
	return &container{c: c, address: addr}, nil
}

// writeFile replaces a file inside the running container
func (c *container) writeFile(ctx context.Context, path string, content []byte) error {
	if c == nil || c.c == nil {
		return errors.New("no container to write to")
	}
	return c.c.CopyToContainer(ctx, content, path, 0o644)
}

// terminate stops the container, letting Docker kill it once grace elapses
func (c *container) terminate(ctx context.Context, grace time.Duration) error {
	if c == nil || c.c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, grace+10*time.Second)
	defer cancel()
	return c.c.Terminate(ctx, tc.StopTimeout(grace))
}
