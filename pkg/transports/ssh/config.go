package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bootforge/bootforge/pkg/engine"
)

const (
	// DefaultPort is the SSH port used when the endpoint names none.
	DefaultPort = 22

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 30 * time.Second
)

// Config holds the connection settings for one remote sync endpoint.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port.
	Port int

	// User is the SSH username.
	User string

	// Password enables password authentication when set.
	Password string

	// IdentityFile is the private key path for key authentication. When
	// empty and no password is set, the default keys under ~/.ssh are
	// tried.
	IdentityFile string

	// Passphrase decrypts an encrypted identity file.
	Passphrase string

	// KnownHostsFile overrides ~/.ssh/known_hosts for host key checks.
	KnownHostsFile string

	// InsecureHostKey skips host key verification. Off unless the user
	// explicitly opts in.
	InsecureHostKey bool

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
}

// ParseEndpoint parses a remote endpoint of the form user@host[:port] into
// a Config with default timeout and port filled in. Authentication fields
// are left for the caller.
func ParseEndpoint(endpoint string) (*Config, error) {
	user, rest, ok := strings.Cut(endpoint, "@")
	if !ok || user == "" || rest == "" {
		return nil, engine.NewValidationError(
			fmt.Sprintf("invalid remote endpoint %q, want user@host[:port]", endpoint), nil).
			WithCode(engine.ErrCodeBadArguments)
	}

	cfg := &Config{
		User:           user,
		Host:           rest,
		Port:           DefaultPort,
		ConnectTimeout: DefaultConnectTimeout,
	}

	host, portStr, err := net.SplitHostPort(rest)
	switch {
	case err == nil:
		port, aerr := strconv.Atoi(portStr)
		if aerr != nil || port < 1 || port > 65535 {
			return nil, engine.NewValidationError(
				fmt.Sprintf("invalid remote port %q in %q", portStr, endpoint), nil).
				WithCode(engine.ErrCodeBadArguments)
		}
		cfg.Host = host
		cfg.Port = port
	case missingPort(err):
		// Bare host, default port stands.
	default:
		return nil, engine.NewValidationError(
			fmt.Sprintf("invalid remote endpoint %q, want user@host[:port]", endpoint), err).
			WithCode(engine.ErrCodeBadArguments)
	}

	return cfg, nil
}

func missingPort(err error) bool {
	var aerr *net.AddrError
	return errors.As(err, &aerr) && strings.Contains(aerr.Err, "missing port")
}

// Validate checks the configuration and resolves the identity file. With
// neither a password nor an explicit identity, the default keys under
// ~/.ssh are tried in order.
func (c *Config) Validate() error {
	if c.Host == "" {
		return engine.NewValidationError("remote host is required", nil).
			WithCode(engine.ErrCodeBadArguments)
	}
	if c.Port < 1 || c.Port > 65535 {
		return engine.NewValidationError(fmt.Sprintf("invalid remote port %d", c.Port), nil).
			WithCode(engine.ErrCodeBadArguments)
	}
	if c.User == "" {
		return engine.NewValidationError("remote user is required", nil).
			WithCode(engine.ErrCodeBadArguments)
	}
	if c.ConnectTimeout <= 0 {
		return engine.NewValidationError("connect timeout must be positive", nil).
			WithCode(engine.ErrCodeBadArguments)
	}

	if c.Password != "" {
		return nil
	}

	if c.IdentityFile == "" {
		home := os.Getenv("HOME")
		for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
			candidate := filepath.Join(home, ".ssh", name)
			if _, err := os.Stat(candidate); err == nil {
				c.IdentityFile = candidate
				break
			}
		}
		if c.IdentityFile == "" {
			return engine.NewValidationError(
				"no authentication configured: provide an identity file or a password", nil).
				WithCode(engine.ErrCodeBadArguments)
		}
	}
	if _, err := os.Stat(c.IdentityFile); err != nil {
		return engine.NewValidationError("identity file not found: "+c.IdentityFile, err).
			WithCode(engine.ErrCodeBadArguments)
	}

	return nil
}

// Address returns the dialable host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// clientConfig builds the ssh.ClientConfig for this endpoint.
func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))

		// Many servers present the password prompt over
		// keyboard-interactive instead of plain password auth.
		auth = append(auth, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))
	} else {
		keyBytes, err := os.ReadFile(c.IdentityFile)
		if err != nil {
			return nil, engine.NewValidationError("could not read identity file "+c.IdentityFile, err).
				WithCode(engine.ErrCodeBadArguments)
		}

		var signer ssh.Signer
		if c.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, engine.NewValidationError("could not parse identity file "+c.IdentityFile, err).
				WithCode(engine.ErrCodeBadArguments)
		}

		auth = append(auth, ssh.PublicKeys(signer))
	}

	var hostKeys ssh.HostKeyCallback
	if c.InsecureHostKey {
		hostKeys = ssh.InsecureIgnoreHostKey() // #nosec G106 -- explicit user opt-in
	} else {
		path := c.KnownHostsFile
		if path == "" {
			path = filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts")
		}
		var err error
		hostKeys, err = knownhosts.New(path)
		if err != nil {
			return nil, engine.NewValidationError("could not load known hosts from "+path, err).
				WithCode(engine.ErrCodeBadArguments)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectTimeout,
	}, nil
}
