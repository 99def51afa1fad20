package rkernel

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"rkernel/messaging"
)

// ConnectionInfo mirrors the connection file handed to the kernel at launch:
// where to bind each of the five channels and how to sign traffic.
type ConnectionInfo struct {
	IP              string `json:"ip"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	Key             string `json:"key"`

	ControlPort   int `json:"control_port"`
	ShellPort     int `json:"shell_port"`
	StdinPort     int `json:"stdin_port"`
	HeartbeatPort int `json:"hb_port"`
	IOPubPort     int `json:"iopub_port"`
}

// LoadConnectionFile reads and validates the JSON connection file at path.
func LoadConnectionFile(path string) (*ConnectionInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read connection file \"%s\"", path)
	}

	var connection ConnectionInfo
	if err := json.Unmarshal(raw, &connection); err != nil {
		return nil, errors.Wrapf(err, "failed to parse connection file \"%s\"", path)
	}

	if err := connection.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid connection file \"%s\"", path)
	}

	return &connection, nil
}

// Validate rejects connection parameters the kernel cannot honor.
func (c *ConnectionInfo) Validate() error {
	if c.IP == "" {
		return errors.New("connection file is missing an ip")
	}

	if c.Transport == "" {
		c.Transport = "tcp"
	}

	if c.Key != "" && c.SignatureScheme != messaging.JupyterSignatureScheme {
		return errors.Wrapf(messaging.ErrNotSupportedSignatureScheme, "\"%s\"", c.SignatureScheme)
	}

	return nil
}
