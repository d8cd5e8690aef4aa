// Package retrieval fetches property sets from the upstream provider with
// request fingerprinting, TTL caching, in-flight coalescing and bounded
// retry.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/propscope/comp-engine/internal/model"
)

// Fingerprint derives the deterministic cache key for a search request.
// Coordinates are rounded to six decimal places (about 11cm) so that noise
// beyond survey precision does not split the cache. Filters and fields are
// order-insensitive; an empty field list keys as "all".
func Fingerprint(req model.SearchRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "lat=%.6f|lon=%.6f|radius=%.1f", req.Center.Lat, req.Center.Lon, req.RadiusMeters)

	keys := make([]string, 0, len(req.Filters))
	for k := range req.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|f:%s=%s", k, req.Filters[k])
	}

	if len(req.Fields) == 0 {
		b.WriteString("|fields=all")
	} else {
		fields := make([]string, len(req.Fields))
		copy(fields, req.Fields)
		sort.Strings(fields)
		fmt.Fprintf(&b, "|fields=%s", strings.Join(fields, ","))
	}

	fmt.Fprintf(&b, "|limit=%d", req.Limit)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
