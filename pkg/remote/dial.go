package remote

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/internal/registry"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Options controls how channels are dialed.
type Options struct {
	// Timeout bounds the TCP dial and the SSH handshake.
	Timeout time.Duration
	// StrictHostKey verifies host keys against ~/.ssh/known_hosts.
	// When false, host key verification is skipped (local trust decision,
	// surfaced as a config option).
	StrictHostKey bool
}

// DefaultTimeout is used when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// NewDialer returns a DialFunc that opens real SSH channels.
func NewDialer(opts Options) DialFunc {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return func(conn registry.Connection, secret string) (Conn, error) {
		return dial(conn, secret, opts)
	}
}

// sshConn is the real Conn backed by an *ssh.Client.
type sshConn struct {
	client *ssh.Client
	host   string
}

func dial(profile registry.Connection, secret string, opts Options) (Conn, error) {
	settings := resolveSettings(profile)

	auth, err := buildAuth(profile, secret, settings)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyPolicy(opts)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            settings.user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}

	address := settings.address()
	tcp, err := net.DialTimeout("tcp", address, opts.Timeout)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("can't reach %q at %s", profile.Name, address))
	}

	sshc, chans, reqs, err := ssh.NewClientConn(tcp, address, config)
	if err != nil {
		tcp.Close()
		if isAuthError(err) {
			return nil, errors.WrapWithCode(err, errors.ErrAuthFailed,
				fmt.Sprintf("authentication to %q rejected", profile.Name))
		}
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("SSH handshake with %q failed", profile.Name))
	}

	return &sshConn{
		client: ssh.NewClient(sshc, chans, reqs),
		host:   settings.hostname,
	}, nil
}

func (c *sshConn) Host() string { return c.host }

func (c *sshConn) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// isAuthError distinguishes an authentication rejection from other
// handshake failures so it maps to the AUTH_FAILED code.
func isAuthError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "unable to authenticate") ||
		strings.Contains(s, "no supported methods remain") ||
		strings.Contains(s, "permission denied")
}

// settings holds the resolved connection parameters after merging the
// profile with ~/.ssh/config (agent-auth profiles only).
type settings struct {
	hostname     string
	port         string
	user         string
	identityFile string
}

func (s *settings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// resolveSettings derives dial parameters from the profile. Agent-auth
// profiles additionally consult ~/.ssh/config so an alias like "myserver"
// picks up HostName/Port/User/IdentityFile the way plain ssh would.
func resolveSettings(profile registry.Connection) *settings {
	s := &settings{
		hostname: profile.Host,
		port:     "22",
		user:     profile.Username,
	}
	if profile.Port > 0 {
		s.port = strconv.Itoa(profile.Port)
	}
	if s.user == "" {
		s.user = currentUser()
	}

	if profile.Auth != registry.AuthAgent {
		return s
	}

	content, err := preprocessSSHConfig(filepath.Join(homeDir(), ".ssh", "config"))
	if err != nil {
		return s
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return s
	}

	if hostname, _ := cfg.Get(profile.Host, "HostName"); hostname != "" {
		s.hostname = hostname
	}
	if profile.Port == 0 {
		if port, _ := cfg.Get(profile.Host, "Port"); port != "" {
			s.port = port
		}
	}
	if profile.Username == "" {
		if user, _ := cfg.Get(profile.Host, "User"); user != "" {
			s.user = user
		}
	}
	if identity, _ := cfg.Get(profile.Host, "IdentityFile"); identity != "" {
		s.identityFile = expandPath(identity)
	}

	return s
}

// buildAuth assembles the auth methods for the profile's auth mode.
func buildAuth(profile registry.Connection, secret string, s *settings) ([]ssh.AuthMethod, error) {
	switch profile.Auth {
	case registry.AuthPassword:
		if secret == "" {
			return nil, errors.NewWithSuggestion(errors.ErrAuthFailed,
				fmt.Sprintf("no password stored for %q", profile.Name),
				"Store one with connections.setSecret")
		}
		return []ssh.AuthMethod{
			ssh.Password(secret),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = secret
				}
				return answers, nil
			}),
		}, nil

	case registry.AuthKey:
		keyAuth, err := keyFileAuth(profile.KeyPath)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{keyAuth}, nil

	case registry.AuthAgent:
		var methods []ssh.AuthMethod
		if agentAuth := sshAgentAuth(); agentAuth != nil {
			methods = append(methods, agentAuth)
		}
		if s.identityFile != "" {
			if keyAuth, err := keyFileAuth(s.identityFile); err == nil {
				methods = append(methods, keyAuth)
			}
		}
		if len(methods) == 0 {
			return nil, errors.NewWithSuggestion(errors.ErrAuthFailed,
				"no SSH auth methods available",
				"Check your keys are loaded: ssh-add -l")
		}
		return methods, nil
	}

	return nil, errors.New(errors.ErrValidation,
		fmt.Sprintf("unsupported auth method %q", profile.Auth))
}

// sshAgentAuth returns an auth method using the SSH agent if available.
// Returns nil if the agent is unreachable or has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}

	client := agent.NewClient(conn)

	// An empty agent causes auth failures when placed before other methods.
	signers, err := client.Signers()
	if err != nil || len(signers) == 0 {
		conn.Close()
		return nil
	}

	return ssh.PublicKeysCallback(client.Signers)
}

// keyFileAuth returns an auth method using a private key file.
func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(expandPath(keyPath))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrAuthFailed,
			fmt.Sprintf("cannot read key file %s", keyPath))
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		if isEncryptedKey(err, key) {
			return nil, errors.NewWithSuggestion(errors.ErrAuthFailed,
				fmt.Sprintf("key at %s is passphrase protected", keyPath),
				"Add it to the agent first: ssh-add "+keyPath)
		}
		return nil, errors.WrapWithCode(err, errors.ErrAuthFailed,
			fmt.Sprintf("cannot parse key file %s", keyPath))
	}

	return ssh.PublicKeys(signer), nil
}

func isEncryptedKey(err error, key []byte) bool {
	return strings.Contains(err.Error(), "encrypted") ||
		strings.Contains(err.Error(), "passphrase") ||
		bytes.Contains(key, []byte("ENCRYPTED"))
}

// hostKeyPolicy builds the host key callback per Options.
func hostKeyPolicy(opts Options) (ssh.HostKeyCallback, error) {
	if !opts.StrictHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit config choice
	}

	knownHostsPath := filepath.Join(homeDir(), ".ssh", "known_hosts")
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH, "failed to create .ssh directory")
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0600); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH, "failed to create known_hosts")
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH, "failed to load known_hosts")
	}

	return func(hostname string, remoteAddr net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remoteAddr, key)
		if err != nil {
			var keyErr *knownhosts.KeyError
			if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
				return errors.NewWithSuggestion(errors.ErrSSH,
					fmt.Sprintf("host key mismatch for %s: server sent %s key", hostname, key.Type()),
					fmt.Sprintf("Update known_hosts: ssh-keyscan %s >> %s, or remove the old entry: ssh-keygen -R %s",
						hostname, knownHostsPath, hostname))
			}
		}
		return err
	}, nil
}

// preprocessSSHConfig reads the SSH config and returns content up to the
// first Match directive, which the ssh_config library cannot parse.
func preprocessSSHConfig(configPath string) ([]byte, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
