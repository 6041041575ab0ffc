// Package fingerprint implements a deterministic SQL fingerprint: a pure
// function from a SQL string and optional parameter tuple to a stable hex
// identifier, with no I/O and no normalization beyond a documented
// canonical parameter encoding.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Fingerprint returns the 64-hex-character SHA-256 digest of sql
// concatenated with a canonical encoding of params. Identical (sql, params)
// pairs always produce identical output, across processes and Go versions;
// whitespace in sql is significant, since callers may rely on exact
// literal formatting rather than a whitespace-insensitive normalization.
func Fingerprint(sql string, params ...interface{}) string {
	h := sha256.New()
	h.Write([]byte(sql))
	h.Write([]byte{0}) // separator: prevents "ab"+"c" colliding with "a"+"bc"
	h.Write([]byte(canonicalParams(params)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalParams renders params deterministically. A map[string]interface{}
// parameter is rendered with its keys sorted, so its iteration order does
// not affect the result.
func canonicalParams(params []interface{}) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = canonicalValue(p)
	}
	// Parameters are positional, not sorted: order matters to the query
	// semantics. Sorting would be the bug here, not a normalization.
	return fmt.Sprintf("%d:%v", len(parts), parts)
}

func canonicalValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "\x00nil"
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s := "{"
		for _, k := range keys {
			s += fmt.Sprintf("%s=%s;", k, canonicalValue(t[k]))
		}
		return s + "}"
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

// QueryKey returns the CacheAside cache key "query:<fingerprint>" for the
// given SQL and parameters.
func QueryKey(sql string, params ...interface{}) string {
	return "query:" + Fingerprint(sql, params...)
}
