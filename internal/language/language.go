package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// ParseQuery parses GraphQL query text into a document.
// Malformed text produces a *gqlerror.Error with location information.
func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate runs the standard validation rules for doc against schema.
// An empty list means the document is valid.
func Validate(schema *Schema, doc *QueryDocument) gqlerror.List {
	return validator.Validate(schema, doc)
}

// LoadSchema builds an executable schema from SDL sources.
func LoadSchema(sources ...*Source) (*Schema, error) {
	schema, err := gqlparser.LoadSchema(sources...)
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// MustLoadSchema is LoadSchema that panics on error. Test helper.
func MustLoadSchema(sdl string) *Schema {
	schema, err := LoadSchema(&Source{Name: "schema.graphql", Input: sdl})
	if err != nil {
		panic(err)
	}
	return schema
}
