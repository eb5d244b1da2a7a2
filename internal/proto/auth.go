package proto

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// HashPassword implements the §6 password hashing rule: MD5, hex,
// uppercased. Not a security mechanism — session-level gating only.
func HashPassword(pwd string) string {
	sum := md5.Sum([]byte(pwd))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
