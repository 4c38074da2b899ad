package utils

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

const (
	serverIDFile   = ".server_id"
	serverIDPrefix = "azconnect-"
)

// GetPersistentServerID names this replica on the event relay. An explicit
// override wins, then a previously stored id, then the hostname; as a last
// resort a random id is generated and written under storagePath so restarts
// keep it.
func GetPersistentServerID(override, storagePath string) string {
	if id := strings.TrimSpace(override); id != "" {
		return id
	}

	idFile := filepath.Join(storagePath, serverIDFile)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	if host, err := os.Hostname(); err == nil && host != "localhost" {
		if clean := sanitizeKeyPart(host); clean != "" {
			return serverIDPrefix + clean
		}
	}

	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	id := serverIDPrefix + hex.EncodeToString(buf)
	if err := os.MkdirAll(storagePath, 0o755); err == nil {
		_ = os.WriteFile(idFile, []byte(id), 0o644)
	}
	return id
}

// sanitizeKeyPart keeps characters that are safe inside Valkey keys and channel names.
func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, s)
}
