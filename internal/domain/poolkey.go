package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// poolKeyHash computes the SMTP connection-pool key hash(host|port|user)
// specified in spec.md §4.4.
func poolKeyHash(host string, port int, user string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", host, port, user)))
	return hex.EncodeToString(sum[:])
}
