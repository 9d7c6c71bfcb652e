package db

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// DefaultMachineIDPath is where systemd keeps the reboot-persistent
// machine identifier.
const DefaultMachineIDPath = "/etc/machine-id"

// identitySalt namespaces the derived identity to this application, in
// the manner of sd_id128_get_machine_app_specific. The raw machine id
// must never be shared externally, so managed_by values are always the
// derived form.
var identitySalt = []byte("igo-gameserver")

// ServerIdentity derives the stable per-server identifier used as the
// managed_by ownership lease. It is a 32-byte value, hex encoded,
// derived from the machine-local secret at path. Fails if the secret is
// absent: a server without a stable identity cannot safely manage
// connections.
func ServerIdentity(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading machine id from %s: %w", path, err)
	}
	secret := bytes.TrimSpace(raw)
	if len(secret) == 0 {
		return "", fmt.Errorf("machine id at %s is empty", path)
	}

	id := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, identitySalt, nil), id); err != nil {
		return "", fmt.Errorf("deriving server identity: %w", err)
	}
	return hex.EncodeToString(id), nil
}
