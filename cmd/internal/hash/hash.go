package hash

import (
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// StableGuid returns a UUID derived from the parts. The same parts always produce the same UUID,
// which lets a dry run and the real run of the same plan be correlated in the logs.
func StableGuid(parts ...string) string {
	h := xxh3.HashString128(strings.Join(parts, "\x00")).Bytes()
	return uuid.Must(uuid.FromBytes(h[:])).String()
}
