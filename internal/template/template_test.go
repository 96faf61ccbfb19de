package template

import (
	"testing"

	"thalis/internal/parser"
	"thalis/internal/semantic"
	"thalis/internal/types"
)

type fakeResolver struct{ r *semantic.Registry }

func (f *fakeResolver) ResolveClassName(name string) (*semantic.Class, bool) {
	c := f.r.ClassByName(name)
	return c, c != nil
}
func (f *fakeResolver) RegisterClass(c *semantic.Class) { f.r.RegisterClass(c) }
func (f *fakeResolver) BuildLayout(c *semantic.Class)   {}

func declareVecTemplate(r *semantic.Registry) *semantic.Class {
	vec := r.DeclareClass("Vec")
	vec.TemplateDef = &semantic.TemplateDefinition{Params: []parser.TemplateParam{{Kind: parser.TemplateParamType, Name: "T"}}}
	vec.Members = append(vec.Members, semantic.Field{
		Name:             "item",
		TemplateTypeName: "T",
	})
	vec.AddFunction(&semantic.Function{
		Name: "get",
		Body: &parser.Block{Stmts: []parser.Stmt{&parser.Return{}}},
	}, r.ClassName)
	return vec
}

func TestInstantiateBuildsConcreteClassFromTemplateDef(t *testing.T) {
	r := semantic.NewRegistry()
	vec := declareVecTemplate(r)
	i32 := r.DeclareClass("i32box")

	eng := New(r)
	res := &fakeResolver{r: r}
	concrete, err := eng.Instantiate(vec, []ConcreteArg{{TypeID: i32.ID, Name: "i32box"}}, res)
	if err != nil {
		t.Fatal(err)
	}
	if concrete.Name != "Vec<i32box>" {
		t.Fatalf("name = %q, want Vec<i32box>", concrete.Name)
	}
	if len(concrete.Members) != 1 || concrete.Members[0].TemplateTypeName != "" {
		t.Fatalf("member substitution did not clear placeholder: %+v", concrete.Members)
	}
	if concrete.Members[0].Type.ID != i32.ID {
		t.Fatalf("member type = %v, want %v", concrete.Members[0].Type.ID, i32.ID)
	}
	if len(concrete.Functions) != 1 || concrete.Functions[0].Name != "get" {
		t.Fatalf("functions not cloned: %+v", concrete.Functions)
	}
}

func TestInstantiateIsIdempotentByCacheKey(t *testing.T) {
	// property P5: the same (class, args) must replay to the identical
	// instantiated class, not synthesize a duplicate.
	r := semantic.NewRegistry()
	vec := declareVecTemplate(r)
	i32 := r.DeclareClass("i32box")
	eng := New(r)
	res := &fakeResolver{r: r}

	a, err := eng.Instantiate(vec, []ConcreteArg{{TypeID: i32.ID, Name: "i32box"}}, res)
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.Instantiate(vec, []ConcreteArg{{TypeID: i32.ID, Name: "i32box"}}, res)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("second instantiation with identical args produced a different class: %p vs %p", a, b)
	}
	if len(vec.Instantiations) != 1 {
		t.Fatalf("Instantiations cache has %d entries, want 1", len(vec.Instantiations))
	}
}

func TestInstantiateDistinctArgsProduceDistinctClasses(t *testing.T) {
	r := semantic.NewRegistry()
	vec := declareVecTemplate(r)
	i32 := r.DeclareClass("i32box")
	f64 := r.DeclareClass("f64box")
	eng := New(r)
	res := &fakeResolver{r: r}

	a, err := eng.Instantiate(vec, []ConcreteArg{{TypeID: i32.ID, Name: "i32box"}}, res)
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.Instantiate(vec, []ConcreteArg{{TypeID: f64.ID, Name: "f64box"}}, res)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("different type arguments must not share an instantiation")
	}
	if len(vec.Instantiations) != 2 {
		t.Fatalf("Instantiations cache has %d entries, want 2", len(vec.Instantiations))
	}
}

func TestInstantiateNonTemplateClassIsIdentity(t *testing.T) {
	r := semantic.NewRegistry()
	c := r.DeclareClass("Plain")
	eng := New(r)
	res := &fakeResolver{r: r}
	got, err := eng.Instantiate(c, nil, res)
	if err != nil {
		t.Fatal(err)
	}
	if got != c {
		t.Fatal("a class with no TemplateDef must be returned unchanged")
	}
}

func TestInstantiateArityMismatchErrors(t *testing.T) {
	r := semantic.NewRegistry()
	vec := declareVecTemplate(r)
	eng := New(r)
	res := &fakeResolver{r: r}
	if _, err := eng.Instantiate(vec, nil, res); err == nil {
		t.Fatal("expected an arity-mismatch error for zero args against a 1-param template")
	}
}

func TestGenerateTemplateClassNameMixesIntAndTypeArgs(t *testing.T) {
	got := GenerateTemplateClassName("Array", []ConcreteArg{
		{Name: "i32box"},
		{IsInt: true, IntVal: 8},
	})
	if got != "Array<i32box,8>" {
		t.Fatalf("got %q", got)
	}
}

func TestReplayResolvesNestedCommand(t *testing.T) {
	r := semantic.NewRegistry()
	vec := declareVecTemplate(r)
	i32 := r.DeclareClass("i32box")
	eng := New(r)
	res := &fakeResolver{r: r}

	// Vec<Vec<i32box>>: the outer command's argument is a child command
	// that must instantiate Vec<i32box> first.
	spec := ArgSpec{Child: &Command{
		ClassName: "Vec",
		Args:      []ArgSpec{{Concrete: &ConcreteArg{TypeID: i32.ID, Name: "i32box"}}},
	}}
	got, err := eng.Replay(&spec, res)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Vec<i32box>" {
		t.Fatalf("replayed arg name = %q, want Vec<i32box>", got.Name)
	}
	if types.TypeID(got.TypeID) != vec.Instantiations[cacheKey([]ConcreteArg{{TypeID: i32.ID, Name: "i32box"}})] {
		t.Fatal("replay must register the nested instantiation in the cache")
	}
}
