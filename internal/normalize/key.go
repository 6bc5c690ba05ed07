package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyVersion tags derived natural keys. Bump it whenever Fold or the hashed
// fields change; rekey migrates stored rows.
const KeyVersion = 1

// StableKey builds the natural key for a record whose source exposes an id
// that survives across fetches.
func StableKey(source, id string) string {
	return source + ":" + strings.TrimSpace(id)
}

// DerivedKey builds the natural key for a record without a stable upstream
// id. The same title, venue and calendar day always produce the same key.
func DerivedKey(title, venue string, date *time.Time, loc *time.Location) string {
	day := ""
	if date != nil {
		if loc == nil {
			loc = time.UTC
		}
		day = date.In(loc).Format(time.DateOnly)
	}
	sum := sha256.Sum256([]byte(Fold(title) + "|" + Fold(venue) + "|" + day))
	return fmt.Sprintf("h%d:%s", KeyVersion, hex.EncodeToString(sum[:16]))
}

// DerivedKeyVersion reports the version of a derived key. ok is false for
// stable keys.
func DerivedKeyVersion(key string) (version int, ok bool) {
	prefix, _, found := strings.Cut(key, ":")
	if !found || len(prefix) < 2 || prefix[0] != 'h' {
		return 0, false
	}
	v, err := strconv.Atoi(prefix[1:])
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ReservedSourceName reports whether name would make stable keys look like
// derived ones.
func ReservedSourceName(name string) bool {
	_, ok := DerivedKeyVersion(name + ":x")
	return ok
}
