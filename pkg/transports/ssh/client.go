package ssh

import (
	"context"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Client is a connected SSH endpoint with an SFTP subsystem, used by the
// sync workflow to mirror profile files onto a remote machine. Connection
// failures classify as network errors so the run exits with the download
// failure code.
type Client struct {
	cfg  *Config
	log  *telemetry.Logger
	conn *ssh.Client
	sftp *sftp.Client
}

// Dial validates cfg, connects and starts the SFTP subsystem. The
// connection timeout comes from cfg; ctx only gates the attempt before it
// starts.
func Dial(ctx context.Context, cfg *Config, log *telemetry.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clientConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, engine.NewCancelledError("connect cancelled")
	}

	sshLog := log.NewComponentLogger("ssh")
	sshLog.Debugf("connecting to %s as %s", cfg.Address(), cfg.User)

	conn, err := ssh.Dial("tcp", cfg.Address(), clientConfig)
	if err != nil {
		return nil, engine.NewDownloadError("could not connect to "+cfg.Address(), err)
	}

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, engine.NewDownloadError("could not start sftp on "+cfg.Address(), err)
	}

	sshLog.Infof("connected to %s", cfg.Address())
	return &Client{
		cfg:  cfg,
		log:  sshLog,
		conn: conn,
		sftp: sftpClient,
	}, nil
}

// Addr returns the connected endpoint as host:port.
func (c *Client) Addr() string {
	return c.cfg.Address()
}

// Close shuts down the SFTP subsystem and the connection.
func (c *Client) Close() error {
	c.log.Debugf("closing connection to %s", c.cfg.Address())

	sftpErr := c.sftp.Close()
	connErr := c.conn.Close()
	if sftpErr != nil {
		return engine.NewDownloadError("could not close sftp session", sftpErr)
	}
	if connErr != nil {
		return engine.NewDownloadError("could not close connection", connErr)
	}
	return nil
}
