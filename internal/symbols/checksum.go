package symbols

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/aristath/openalgo-bridge/internal/domain"
)

// checksum fingerprints a contract list so each rotation can be
// logged with a value that changes iff the contract set changed,
// independent of slice order.
func checksum(records []*domain.SymbolRecord) string {
	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, string(r.Exchange)+":"+r.Symbol+":"+r.Token)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
