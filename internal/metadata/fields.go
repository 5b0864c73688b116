package metadata

import (
	"time"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
)

// Field describes one attribute in the feature-query protocol's layer schema.
type Field struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Alias        string `json:"alias"`
	SQLType      string `json:"sqlType"`
	Length       int    `json:"length,omitempty"`
	Domain       any    `json:"domain"`
	Editable     bool   `json:"editable"`
	DefaultValue any    `json:"defaultValue"`
}

// Fields derives schema descriptors for the return fields that the mapping
// knows about. Unmapped fields and unsupported types are left out.
func Fields(m backend.Mapping, returnFields []string) []Field {
	out := make([]Field, 0, len(returnFields))
	for _, name := range returnFields {
		f := Field{Name: name, Alias: name}
		switch m.FieldType(name) {
		case "keyword", "text", "wildcard", "constant_keyword":
			f.Type, f.SQLType, f.Length = "String", "sqlTypeNVarchar", 256
		case "integer", "short", "byte":
			f.Type, f.SQLType = "Integer", "sqlTypeInteger"
		case "long", "unsigned_long":
			f.Type, f.SQLType = "Integer", "sqlTypeBigInt"
		case "float", "double", "half_float", "scaled_float":
			f.Type, f.SQLType = "Double", "sqlTypeFloat"
		case "date", "date_nanos":
			f.Type, f.SQLType = "Date", "sqlTypeOther"
		default:
			continue
		}
		out = append(out, f)
	}
	return out
}

// ZeroValues builds a placeholder property map for an empty layer: numbers
// become 0, strings "", dates the current epoch second.
func ZeroValues(m backend.Mapping, returnFields []string, now time.Time) map[string]any {
	props := make(map[string]any, len(returnFields))
	for _, name := range returnFields {
		switch m.FieldType(name) {
		case "integer", "short", "byte", "long", "unsigned_long", "float", "double", "half_float", "scaled_float":
			props[name] = 0
		case "keyword", "text", "wildcard", "constant_keyword":
			props[name] = ""
		case "date", "date_nanos":
			props[name] = now.Unix()
		}
	}
	return props
}
