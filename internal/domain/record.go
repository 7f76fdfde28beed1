package domain

import "strings"

// DomainRecord is a cleaned remote payload: an opaque field→value mapping
// (profile, site, work order). The gateway never interprets fields beyond
// what cache keys and site merging require; everything else passes through.
type DomainRecord map[string]any

// canonicalAliases maps remote field names to the canonical alias the rest of
// the system reads. Aliases are backfilled, never overwritten, so cleaning
// stays idempotent.
var canonicalAliases = map[string]string{
	"personid": "userid",
	"defsite":  "defaultsite",
	"wonum":    "workorderid",
}

// CleanRecord normalizes a raw remote payload: namespace-prefixed keys
// ("ns:fieldName") lose their prefix, nested objects and arrays are cleaned
// recursively, and canonical aliases are backfilled. The mapping is total and
// idempotent: CleanRecord(CleanRecord(x)) == CleanRecord(x). Internal code
// never branches on whether a key still carries a prefix.
func CleanRecord(raw map[string]any) DomainRecord {
	if raw == nil {
		return nil
	}
	out := make(DomainRecord, len(raw))
	for key, value := range raw {
		out[stripPrefix(key)] = cleanValue(value)
	}
	for field, alias := range canonicalAliases {
		if v, ok := out[field]; ok {
			if _, present := out[alias]; !present {
				out[alias] = v
			}
		}
	}
	return out
}

func stripPrefix(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func cleanValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return map[string]any(CleanRecord(v))
	case []any:
		cleaned := make([]any, len(v))
		for i, item := range v {
			cleaned[i] = cleanValue(item)
		}
		return cleaned
	default:
		return value
	}
}

// StringField returns the record's field as a string, or "" when absent or
// not a string.
func (r DomainRecord) StringField(name string) string {
	if v, ok := r[name].(string); ok {
		return v
	}
	return ""
}
