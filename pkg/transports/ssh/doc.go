// Package ssh is the remote transport for the sync workflow. It dials one
// endpoint parsed from user@host[:port], authenticates with a password or
// an identity file, and exposes the small SFTP surface sync needs: upload
// file, upload directory, mkdir, stat and checksum. RemoteProber adapts
// SFTP stat to the engine's detection interface so remote destinations
// verify exactly like local ones.
package ssh
