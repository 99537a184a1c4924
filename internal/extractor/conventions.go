package extractor

import (
	"strings"
)

// DefaultMediaType is used when a mapping declares no produces/consumes.
const DefaultMediaType = "application/json"

// AnyMethod is the HTTP method of a @RequestMapping without a method attribute.
const AnyMethod = "ANY"

// Role labels.
const (
	LabelController    = "controller"
	LabelRest          = "rest"
	LabelService       = "service"
	LabelRepository    = "repository"
	LabelComponent     = "component"
	LabelConfiguration = "configuration"
	LabelEntity        = "entity"
	LabelAdvice        = "advice"
	LabelApplication   = "application"
)

var stereotypeLabels = map[string][]string{
	"RestController":        {LabelController, LabelRest},
	"Controller":            {LabelController},
	"Service":               {LabelService},
	"Repository":            {LabelRepository},
	"Component":             {LabelComponent},
	"Configuration":         {LabelConfiguration},
	"Entity":                {LabelEntity},
	"ControllerAdvice":      {LabelAdvice},
	"RestControllerAdvice":  {LabelAdvice},
	"SpringBootApplication": {LabelApplication},
}

var springDataRepositories = map[string]bool{
	"JpaRepository":              true,
	"CrudRepository":             true,
	"PagingAndSortingRepository": true,
	"ListCrudRepository":         true,
	"MongoRepository":            true,
	"ReactiveCrudRepository":     true,
}

var mappingMethods = map[string]string{
	"GetMapping":    "GET",
	"PostMapping":   "POST",
	"PutMapping":    "PUT",
	"DeleteMapping": "DELETE",
	"PatchMapping":  "PATCH",
}

const requestMapping = "RequestMapping"

var injectionAnnotations = map[string]bool{
	"Autowired": true,
	"Inject":    true,
	"Resource":  true,
}

// Element types of these wrappers are the real dependency. For Map the
// value type is used.
var wrapperTypes = map[string]bool{
	"List":           true,
	"Set":            true,
	"Collection":     true,
	"Iterable":       true,
	"Optional":       true,
	"ObjectProvider": true,
	"ObjectFactory":  true,
	"Provider":       true,
	"Map":            true,
	"Lazy":           true,
}

var mediaTypeConstants = map[string]string{
	"ALL_VALUE":                         "*/*",
	"APPLICATION_JSON_VALUE":            "application/json",
	"APPLICATION_XML_VALUE":             "application/xml",
	"APPLICATION_OCTET_STREAM_VALUE":    "application/octet-stream",
	"APPLICATION_FORM_URLENCODED_VALUE": "application/x-www-form-urlencoded",
	"APPLICATION_PDF_VALUE":             "application/pdf",
	"APPLICATION_NDJSON_VALUE":          "application/x-ndjson",
	"MULTIPART_FORM_DATA_VALUE":         "multipart/form-data",
	"TEXT_PLAIN_VALUE":                  "text/plain",
	"TEXT_HTML_VALUE":                   "text/html",
	"TEXT_EVENT_STREAM_VALUE":           "text/event-stream",
}

// LabelsFor returns the role labels implied by a set of annotation names.
func LabelsFor(annotations []string) []string {
	var labels []string
	for _, a := range annotations {
		labels = append(labels, stereotypeLabels[a]...)
	}
	return labels
}

// IsSpringDataRepository reports whether a supertype name marks a
// repository interface.
func IsSpringDataRepository(typeName string) bool {
	return springDataRepositories[SimpleName(BaseType(typeName))]
}

// MediaType resolves a produces/consumes value, mapping MediaType constants
// to their string form.
func MediaType(v string) string {
	name := v
	if i := strings.LastIndex(v, "."); i >= 0 {
		name = v[i+1:]
	}
	if mt, ok := mediaTypeConstants[name]; ok {
		return mt
	}
	return v
}

// NormalizePath gives a route a leading slash, no duplicate slashes and no
// trailing slash except on the root.
func NormalizePath(p string) string {
	var sb strings.Builder
	sb.WriteByte('/')
	prevSlash := true
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		sb.WriteByte(c)
	}
	out := sb.String()
	if len(out) > 1 && strings.HasSuffix(out, "/") {
		out = out[:len(out)-1]
	}
	return out
}

// JoinPath joins a class-level prefix and a method-level path.
func JoinPath(prefix, p string) string {
	return NormalizePath(prefix + "/" + p)
}

// CompactType removes whitespace from a type as written in source.
func CompactType(t string) string {
	return strings.Join(strings.Fields(t), "")
}

// BaseType strips type arguments and array dimensions: "Map<K,V>[]" -> "Map".
func BaseType(t string) string {
	t = CompactType(t)
	if i := strings.IndexByte(t, '<'); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSuffix(t, "...")
	for strings.HasSuffix(t, "[]") {
		t = strings.TrimSuffix(t, "[]")
	}
	return t
}

// TypeArgs splits the top-level type arguments of a generic type.
func TypeArgs(t string) []string {
	t = CompactType(t)
	open := strings.IndexByte(t, '<')
	end := strings.LastIndexByte(t, '>')
	if open < 0 || end < open {
		return nil
	}
	inner := t[open+1 : end]
	var (
		args  []string
		depth int
		start int
	)
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, inner[start:i])
				start = i + 1
			}
		}
	}
	return append(args, inner[start:])
}

// ElementType unwraps injection wrappers to the type actually injected:
// List<Handler> -> Handler, Map<String,Handler> -> Handler,
// Optional<ObjectProvider<Repo>> -> Repo. Wildcards lose their bound keyword.
func ElementType(t string) string {
	for {
		base := BaseType(t)
		if !wrapperTypes[SimpleName(base)] {
			return base
		}
		args := TypeArgs(t)
		if len(args) == 0 {
			return base
		}
		next := args[len(args)-1]
		next = strings.TrimPrefix(next, "?extends")
		next = strings.TrimPrefix(next, "?super")
		t = next
	}
}

// SimpleName returns the last dot segment of a qualified name.
func SimpleName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

var primitives = map[string]bool{
	"boolean": true, "byte": true, "char": true, "short": true,
	"int": true, "long": true, "float": true, "double": true, "void": true,
}

// IsPrimitive reports whether a base type is a Java primitive.
func IsPrimitive(t string) bool {
	return primitives[t]
}
