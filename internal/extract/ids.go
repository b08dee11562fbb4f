package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// externalID derives a stable, content-based identifier for an extracted
// record so that re-extracting an unchanged message yields the same ID
// rather than a fresh one each run.
func externalID(kind Kind, messageID, content string) string {
	h := sha256.New()
	h.Write([]byte(string(kind)))
	h.Write([]byte{0})
	h.Write([]byte(messageID))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(h.Sum(nil))
}
