package schema

import "strings"

// TemplateID is the parsed form of a Daml template identifier. Any field
// may be absent (nil) when the source string didn't carry that component.
type TemplateID struct {
	PackageName *string
	ModuleName  *string
	EntityName  *string
}

func strPtr(s string) *string { return &s }

// ParseTemplateID accepts three wire formats:
//
//	colon-dot:    "hash:Module.Path:Entity"
//	simple colon: "Module.Path:Entity"
//	underscore:   "hash_Module_Entity"
func ParseTemplateID(raw string) TemplateID {
	if raw == "" {
		return TemplateID{}
	}

	colonParts := strings.Split(raw, ":")
	switch {
	case len(colonParts) == 3:
		return TemplateID{
			PackageName: strPtr(colonParts[0]),
			ModuleName:  strPtr(colonParts[1]),
			EntityName:  strPtr(colonParts[2]),
		}
	case len(colonParts) == 2:
		return TemplateID{
			ModuleName: strPtr(colonParts[0]),
			EntityName: strPtr(colonParts[1]),
		}
	case len(colonParts) > 3:
		entity := colonParts[len(colonParts)-1]
		module := strings.Join(colonParts[1:len(colonParts)-1], ":")
		return TemplateID{
			PackageName: strPtr(colonParts[0]),
			ModuleName:  strPtr(module),
			EntityName:  strPtr(entity),
		}
	}

	// No colon: try the underscore format.
	underscoreParts := strings.Split(raw, "_")
	if len(underscoreParts) >= 3 {
		entity := underscoreParts[len(underscoreParts)-1]
		module := underscoreParts[len(underscoreParts)-2]
		pkg := strings.Join(underscoreParts[:len(underscoreParts)-2], "_")
		return TemplateID{
			PackageName: strPtr(pkg),
			ModuleName:  strPtr(module),
			EntityName:  strPtr(entity),
		}
	}

	return TemplateID{}
}

// NormalizeTemplateKey produces a hash-stripped "Module.Path:Entity" key
// that supports cross-format equality between the three wire formats.
func NormalizeTemplateKey(t TemplateID) string {
	module := ""
	if t.ModuleName != nil {
		module = *t.ModuleName
	}
	entity := ""
	if t.EntityName != nil {
		entity = *t.EntityName
	}
	return module + ":" + entity
}
