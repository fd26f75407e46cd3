package language

import "github.com/vektah/gqlparser/v2/ast"

type (
	Source              = ast.Source
	Schema              = ast.Schema
	QueryDocument       = ast.QueryDocument
	OperationDefinition = ast.OperationDefinition
	OperationList       = ast.OperationList
	VariableDefinition  = ast.VariableDefinition
	SelectionSet        = ast.SelectionSet
	Selection           = ast.Selection
	Field               = ast.Field
	Argument            = ast.Argument
	ArgumentList        = ast.ArgumentList
	Value               = ast.Value
	Path                = ast.Path
	PathName            = ast.PathName
	PathIndex           = ast.PathIndex
	Position            = ast.Position
)

type Operation = ast.Operation

const (
	Query        Operation = ast.Query
	Mutation     Operation = ast.Mutation
	Subscription Operation = ast.Subscription
)
