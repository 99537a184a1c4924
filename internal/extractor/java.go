package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/ir"
	"github.com/Lezhik/SpringTwin/internal/scanner"
)

// DefaultMaxFileSize is the largest unit parsed.
const DefaultMaxFileSize = 2 << 20

// JavaOption configures a JavaExtractor.
type JavaOption func(*JavaExtractor)

// WithMaxFileSize sets the size limit above which a unit is rejected.
func WithMaxFileSize(n int) JavaOption {
	return func(e *JavaExtractor) { e.maxFileSize = n }
}

// WithLogger sets the logger used for per-unit diagnostics.
func WithLogger(l *slog.Logger) JavaOption {
	return func(e *JavaExtractor) { e.logger = l }
}

// JavaExtractor parses Java sources with tree-sitter. Each call creates its
// own parser, so one JavaExtractor may be shared between goroutines.
type JavaExtractor struct {
	maxFileSize int
	logger      *slog.Logger
}

// NewJava returns a JavaExtractor.
func NewJava(opts ...JavaOption) *JavaExtractor {
	e := &JavaExtractor{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Extract implements Extractor. Malformed units fail with ErrExtraction.
func (e *JavaExtractor) Extract(ctx context.Context, unit scanner.Unit, src []byte) (*UnitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	if len(src) > e.maxFileSize {
		return nil, fmt.Errorf("%w: %s: size %d exceeds limit %d", apperr.ErrExtraction, unit.RelPath, len(src), e.maxFileSize)
	}
	if !utf8.Valid(src) {
		return nil, fmt.Errorf("%w: %s: content is not valid UTF-8", apperr.ErrExtraction, unit.RelPath)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("%w: %s: tree-sitter parse failed: %v", apperr.ErrExtraction, unit.RelPath, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("%w: %s: empty syntax tree", apperr.ErrExtraction, unit.RelPath)
	}
	if root.HasError() {
		return nil, fmt.Errorf("%w: %s: source contains syntax errors", apperr.ErrExtraction, unit.RelPath)
	}

	u := &unitWalker{src: src, res: &UnitResult{RelPath: unit.RelPath, Hash: HashSource(src)}}
	u.walk(root, unit)
	e.logger.Debug("extracted unit",
		slog.String("path", unit.RelPath),
		slog.Int("methods", len(u.res.Methods)),
		slog.Int("endpoints", len(u.res.Endpoints)))
	return u.res, nil
}

type unitWalker struct {
	src []byte
	res *UnitResult

	class       *ir.ClassNode
	fields      map[string]string
	classPaths  []string
	hasClassMap bool
	classProd   []string
	classCons   []string
}

func (u *unitWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(u.src)
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

var typeDeclarations = map[string]ir.ClassKind{
	"class_declaration":           ir.KindClass,
	"interface_declaration":       ir.KindInterface,
	"enum_declaration":            ir.KindEnum,
	"record_declaration":          ir.KindRecord,
	"annotation_type_declaration": ir.KindAnnotation,
}

func (u *unitWalker) walk(root *sitter.Node, unit scanner.Unit) {
	var decls []*sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "package_declaration":
			u.res.Package = u.packageName(child)
		case "import_declaration":
			u.res.Imports = append(u.res.Imports, u.importDecl(child))
		default:
			if _, ok := typeDeclarations[child.Type()]; ok {
				decls = append(decls, child)
			}
		}
	}
	if u.res.Package == "" {
		u.res.Package = unit.Package
	}
	if len(decls) == 0 {
		return
	}

	// The type named after the file wins, otherwise the first one.
	want := strings.TrimSuffix(path.Base(unit.RelPath), ".java")
	decl := decls[0]
	for _, d := range decls {
		if u.text(d.ChildByFieldName("name")) == want {
			decl = d
			break
		}
	}
	u.typeDecl(decl)
}

func (u *unitWalker) packageName(n *sitter.Node) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "scoped_identifier" || c.Type() == "identifier" {
			return u.text(c)
		}
	}
	return ""
}

func (u *unitWalker) importDecl(n *sitter.Node) Import {
	var imp Import
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "static":
			imp.Static = true
		case "asterisk":
			imp.Wildcard = true
		case "scoped_identifier", "identifier":
			imp.Path = u.text(c)
		}
	}
	return imp
}

// annotation is a parsed Java annotation. Args maps element names to their
// values; the unnamed single element is stored under "value".
type annotation struct {
	Name string
	Args map[string][]string
	Line int
}

func (a annotation) values(keys ...string) []string {
	for _, k := range keys {
		if v, ok := a.Args[k]; ok {
			return v
		}
	}
	return nil
}

// modifiers splits a modifiers node into keyword modifiers and annotations.
func (u *unitWalker) modifiers(decl *sitter.Node) ([]string, []annotation) {
	var (
		mods []string
		anns []annotation
	)
	for i := 0; i < int(decl.ChildCount()); i++ {
		m := decl.Child(i)
		if m.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(m.ChildCount()); j++ {
			c := m.Child(j)
			switch c.Type() {
			case "annotation", "marker_annotation":
				anns = append(anns, u.annotation(c))
			default:
				if t := u.text(c); t != "" {
					mods = append(mods, t)
				}
			}
		}
	}
	return mods, anns
}

func (u *unitWalker) annotation(n *sitter.Node) annotation {
	a := annotation{Name: SimpleName(u.text(n.ChildByFieldName("name"))), Args: map[string][]string{}, Line: line(n)}
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return a
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		c := args.NamedChild(i)
		if c.Type() == "element_value_pair" {
			key := u.text(c.ChildByFieldName("key"))
			a.Args[key] = u.elementValues(c.ChildByFieldName("value"))
			continue
		}
		a.Args["value"] = u.elementValues(c)
	}
	return a
}

// elementValues flattens an annotation element into strings. String
// literals are unquoted; constants keep their source text.
func (u *unitWalker) elementValues(n *sitter.Node) []string {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "element_value_array_initializer":
		var out []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			out = append(out, u.elementValues(n.NamedChild(i))...)
		}
		return out
	case "string_literal":
		return []string{unquote(u.text(n))}
	case "binary_expression":
		// "/api" + "/v1"
		left := u.elementValues(n.ChildByFieldName("left"))
		right := u.elementValues(n.ChildByFieldName("right"))
		if len(left) == 1 && len(right) == 1 {
			return []string{left[0] + right[0]}
		}
		return []string{u.text(n)}
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return u.elementValues(n.NamedChild(0))
		}
	}
	return []string{u.text(n)}
}

func unquote(s string) string {
	if v, err := strconv.Unquote(s); err == nil {
		return v
	}
	return strings.Trim(s, `"`)
}

func annotationNames(anns []annotation) []string {
	names := make([]string, len(anns))
	for i, a := range anns {
		names[i] = a.Name
	}
	return names
}

func findAnnotation(anns []annotation, name string) (annotation, bool) {
	for _, a := range anns {
		if a.Name == name {
			return a, true
		}
	}
	return annotation{}, false
}

func hasAnyAnnotation(anns []annotation, names map[string]bool) bool {
	for _, a := range anns {
		if names[a.Name] {
			return true
		}
	}
	return false
}

func (u *unitWalker) typeDecl(decl *sitter.Node) {
	name := u.text(decl.ChildByFieldName("name"))
	fqn := name
	if u.res.Package != "" {
		fqn = u.res.Package + "." + name
	}
	mods, anns := u.modifiers(decl)
	kind := typeDeclarations[decl.Type()]

	labels := LabelsFor(annotationNames(anns))
	if kind == ir.KindInterface {
		for _, st := range u.supertypes(decl) {
			if IsSpringDataRepository(st) {
				labels = append(labels, LabelRepository)
			}
		}
	}

	u.class = &ir.ClassNode{
		ID:          fqn,
		Name:        name,
		FullName:    fqn,
		PackageName: u.res.Package,
		Kind:        kind,
		Labels:      ir.SortedSet(labels),
		Modifiers:   ir.SortedSet(mods),
		SourcePath:  u.res.RelPath,
	}
	u.res.Class = u.class
	u.fields = map[string]string{}

	if rm, ok := findAnnotation(anns, requestMapping); ok {
		u.hasClassMap = true
		u.classPaths = rm.values("value", "path")
		u.classProd = rm.values("produces")
		u.classCons = rm.values("consumes")
	}
	if len(u.classPaths) == 0 {
		u.classPaths = []string{""}
	}

	body := decl.ChildByFieldName("body")
	if body == nil {
		return
	}
	members := u.members(body)

	// Fields first so calls in methods can resolve receivers.
	_, requiredArgs := findAnnotation(anns, "RequiredArgsConstructor")
	_, allArgs := findAnnotation(anns, "AllArgsConstructor")
	for _, m := range members {
		if m.Type() == "field_declaration" {
			u.field(m, requiredArgs, allArgs)
		}
	}
	if kind == ir.KindRecord {
		u.recordComponents(decl)
	}
	for _, m := range members {
		switch m.Type() {
		case "method_declaration", "constructor_declaration", "compact_constructor_declaration":
			u.method(m)
		}
	}
}

// supertypes returns the extended and implemented types as written.
func (u *unitWalker) supertypes(decl *sitter.Node) []string {
	var out []string
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		c := decl.NamedChild(i)
		switch c.Type() {
		case "extends_interfaces", "super_interfaces", "superclass":
			out = append(out, u.typeNames(c)...)
		}
	}
	return out
}

func (u *unitWalker) typeNames(n *sitter.Node) []string {
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "type_list":
			out = append(out, u.typeNames(c)...)
		default:
			out = append(out, u.text(c))
		}
	}
	return out
}

// members returns the direct member declarations of a type body. Enum
// members live one level down in enum_body_declarations.
func (u *unitWalker) members(body *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c.Type() == "enum_body_declarations" {
			out = append(out, u.members(c)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (u *unitWalker) field(n *sitter.Node, requiredArgs, allArgs bool) {
	mods, anns := u.modifiers(n)
	typ := CompactType(u.text(n.ChildByFieldName("type")))
	isStatic := contains(mods, "static")
	isFinal := contains(mods, "final")

	injection := ""
	switch {
	case hasAnyAnnotation(anns, injectionAnnotations):
		injection = ir.InjectionField
	case !isStatic && allArgs:
		injection = ir.InjectionConstructor
	case !isStatic && isFinal && requiredArgs:
		injection = ir.InjectionConstructor
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		name := u.text(d.ChildByFieldName("name"))
		u.fields[name] = typ
		u.res.Fields = append(u.res.Fields, Field{Name: name, Type: typ, Static: isStatic})
		if injection != "" {
			u.res.Deps = append(u.res.Deps, DependencyRef{
				Type:          ElementType(typ),
				FieldName:     name,
				InjectionType: injection,
				Line:          line(d),
			})
		}
	}
}

// recordComponents treats record components as final fields.
func (u *unitWalker) recordComponents(decl *sitter.Node) {
	params := decl.ChildByFieldName("parameters")
	if params == nil {
		return
	}
	for _, p := range u.parameters(params) {
		u.fields[p.Name] = p.Type
		u.res.Fields = append(u.res.Fields, Field{Name: p.Name, Type: p.Type})
	}
}

func (u *unitWalker) parameters(n *sitter.Node) []ir.Parameter {
	var out []ir.Parameter
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "formal_parameter":
			typ := CompactType(u.text(c.ChildByFieldName("type")))
			if dims := c.ChildByFieldName("dimensions"); dims != nil {
				typ += CompactType(u.text(dims))
			}
			out = append(out, ir.Parameter{Name: u.text(c.ChildByFieldName("name")), Type: typ})
		case "spread_parameter":
			var typ, name string
			for j := 0; j < int(c.NamedChildCount()); j++ {
				cc := c.NamedChild(j)
				switch cc.Type() {
				case "modifiers":
				case "variable_declarator":
					name = u.text(cc.ChildByFieldName("name"))
				default:
					if typ == "" {
						typ = CompactType(u.text(cc))
					}
				}
			}
			out = append(out, ir.Parameter{Name: name, Type: typ + "..."})
		}
	}
	return out
}

func (u *unitWalker) method(n *sitter.Node) {
	mods, anns := u.modifiers(n)
	isCtor := n.Type() != "method_declaration"

	name := u.text(n.ChildByFieldName("name"))
	if name == "" {
		name = u.class.Name
	}
	var params []ir.Parameter
	if p := n.ChildByFieldName("parameters"); p != nil {
		params = u.parameters(p)
	}
	sig := ir.Signature(name, params)
	m := &ir.MethodNode{
		ID:         ir.MethodID(u.class.ID, sig),
		ClassID:    u.class.ID,
		Name:       name,
		Signature:  sig,
		Parameters: params,
		Modifiers:  ir.SortedSet(mods),
		Line:       line(n),
	}
	if !isCtor {
		m.ReturnType = CompactType(u.text(n.ChildByFieldName("type")))
	}
	u.res.Methods = append(u.res.Methods, m)
	u.res.Edges = append(u.res.Edges, ir.Edge{Kind: ir.EdgeContains, From: u.class.ID, To: m.ID})

	injection := ""
	switch {
	case isCtor:
		injection = ir.InjectionConstructor
	case hasAnyAnnotation(anns, injectionAnnotations):
		injection = ir.InjectionSetter
	}
	if injection != "" {
		for _, p := range params {
			u.res.Deps = append(u.res.Deps, DependencyRef{
				Type:          ElementType(p.Type),
				FieldName:     p.Name,
				InjectionType: injection,
				Line:          m.Line,
			})
		}
	}

	if !isCtor {
		u.endpoints(m, anns)
	}
	if body := n.ChildByFieldName("body"); body != nil {
		u.calls(m.ID, body)
	}
}

func (u *unitWalker) endpoints(m *ir.MethodNode, anns []annotation) {
	if !u.class.HasLabel(LabelController) && !u.hasClassMap {
		return
	}
	for _, a := range anns {
		var methods []string
		if hm, ok := mappingMethods[a.Name]; ok {
			methods = []string{hm}
		} else if a.Name == requestMapping {
			for _, v := range a.values("method") {
				methods = append(methods, strings.ToUpper(SimpleName(v)))
			}
			if len(methods) == 0 {
				methods = []string{AnyMethod}
			}
		} else {
			continue
		}

		paths := a.values("value", "path")
		if len(paths) == 0 {
			paths = []string{""}
		}
		produces := mediaTypes(a.values("produces"), u.classProd)
		consumes := mediaTypes(a.values("consumes"), u.classCons)

		for _, prefix := range u.classPaths {
			for _, p := range paths {
				route := JoinPath(prefix, p)
				for _, hm := range methods {
					ep := &ir.EndpointNode{
						ID:         ir.EndpointID(m.ID, hm, route),
						MethodID:   m.ID,
						Path:       route,
						HTTPMethod: hm,
						Produces:   produces,
						Consumes:   consumes,
					}
					u.res.Endpoints = append(u.res.Endpoints, ep)
					u.res.Edges = append(u.res.Edges, ir.Edge{Kind: ir.EdgeExposes, From: m.ID, To: ep.ID})
				}
			}
		}
	}
}

func mediaTypes(own, inherited []string) string {
	vals := own
	if len(vals) == 0 {
		vals = inherited
	}
	if len(vals) == 0 {
		return DefaultMediaType
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = MediaType(v)
	}
	return strings.Join(out, ",")
}

// calls records invocations whose receiver can be resolved statically:
// unqualified calls, calls on this, and calls on a field of the class.
func (u *unitWalker) calls(from string, n *sitter.Node) {
	if n.Type() == "method_invocation" {
		u.invocation(from, n)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		u.calls(from, n.NamedChild(i))
	}
}

func (u *unitWalker) invocation(from string, n *sitter.Node) {
	name := u.text(n.ChildByFieldName("name"))
	arity := 0
	if args := n.ChildByFieldName("arguments"); args != nil {
		arity = int(args.NamedChildCount())
	}
	ref := CallRef{From: from, Name: name, Arity: arity, Line: line(n)}

	obj := n.ChildByFieldName("object")
	switch {
	case obj == nil, obj.Type() == "this":
	case obj.Type() == "identifier":
		field := u.text(obj)
		if _, ok := u.fields[field]; !ok {
			return
		}
		ref.Field = field
	case obj.Type() == "field_access":
		inner := obj.ChildByFieldName("object")
		if inner == nil || inner.Type() != "this" {
			return
		}
		field := u.text(obj.ChildByFieldName("field"))
		if _, ok := u.fields[field]; !ok {
			return
		}
		ref.Field = field
	default:
		return
	}
	u.res.Calls = append(u.res.Calls, ref)
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
