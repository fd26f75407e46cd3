package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
)

// ResolverMap is a reference executor resolving root-level fields from
// a registry of Go functions. Resolver return values are serialized
// as-is; nested selection sets are not traversed. It exists for demo
// wiring and tests — production deployments inject a full engine as
// the pipeline's execution.Func.
type ResolverMap struct {
	mu        sync.RWMutex
	resolvers map[string]FieldResolver
}

// NewResolverMap creates an empty resolver registry.
func NewResolverMap() *ResolverMap {
	return &ResolverMap{resolvers: make(map[string]FieldResolver)}
}

// Set registers a resolver for objectType.field, replacing any
// previous registration.
func (rm *ResolverMap) Set(objectType, field string, r FieldResolver) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.resolvers[objectType+"."+field] = r
}

func (rm *ResolverMap) lookup(objectType, field string) FieldResolver {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.resolvers[objectType+"."+field]
}

// Execute implements execution.Func.
func (rm *ResolverMap) Execute(ctx context.Context, args Args) (*Result, error) {
	op := args.Document.Operations.ForName(args.OperationName)
	if op == nil {
		return nil, fmt.Errorf("operation %q not found in document", args.OperationName)
	}

	var rootType string
	switch op.Operation {
	case ast.Query:
		rootType = args.Schema.Query.Name
	case ast.Mutation:
		if args.Schema.Mutation == nil {
			return nil, fmt.Errorf("schema does not define a mutation type")
		}
		rootType = args.Schema.Mutation.Name
	default:
		return nil, fmt.Errorf("operation type %q is not supported by the resolver-map executor", op.Operation)
	}

	vars, verr := coerceVariables(op, args.Variables)
	if verr != nil {
		return nil, verr
	}

	result := &Result{Data: map[string]any{}}
	data := result.Data.(map[string]any)

	for _, sel := range op.SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue // fragments are not traversed by the reference executor
		}
		alias := field.Alias
		if alias == "" {
			alias = field.Name
		}
		if field.Name == "__typename" {
			data[alias] = rootType
			continue
		}

		fieldArgs := map[string]any{}
		for _, arg := range field.Arguments {
			v, err := arg.Value.Value(vars)
			if err != nil {
				return nil, &Error{
					Message:   err.Error(),
					Path:      ast.Path{ast.PathName(alias)},
					NodeKinds: []string{"Argument"},
					Err:       err,
				}
			}
			fieldArgs[arg.Name] = v
		}

		info := FieldInfo{
			ObjectType: rootType,
			FieldName:  field.Name,
			Field:      field,
			Args:       fieldArgs,
			Path:       ast.Path{ast.PathName(alias)},
			Source:     args.RootValue,
		}

		var done func(any, error)
		if args.FieldObserver != nil {
			done = args.FieldObserver(ctx, info)
		}

		value, err := rm.resolveField(ctx, args, info)
		if done != nil {
			done(value, err)
		}
		if err != nil {
			data[alias] = nil
			result.Errors = append(result.Errors, &Error{
				Message: err.Error(),
				Path:    info.Path,
				Err:     err,
			})
			continue
		}
		data[alias] = value
	}
	return result, nil
}

func (rm *ResolverMap) resolveField(ctx context.Context, args Args, info FieldInfo) (any, error) {
	if r := rm.lookup(info.ObjectType, info.FieldName); r != nil {
		return r(ctx, info)
	}
	if args.FieldResolver != nil {
		return args.FieldResolver(ctx, info)
	}
	return nil, nil
}

// coerceVariables applies the minimal required/non-null variable rules.
// Failures abort execution with the variable-definition node attached
// and the engine-conventional message wording.
func coerceVariables(op *ast.OperationDefinition, provided map[string]any) (map[string]any, *Error) {
	coerced := make(map[string]any, len(op.VariableDefinitions))
	for _, vd := range op.VariableDefinitions {
		value, ok := provided[vd.Variable]
		if !ok {
			if vd.DefaultValue != nil {
				v, err := vd.DefaultValue.Value(nil)
				if err != nil {
					return nil, variableError(vd, fmt.Sprintf(
						`Variable "$%s" got invalid value %s.`, vd.Variable, err), err)
				}
				coerced[vd.Variable] = v
				continue
			}
			if vd.Type.NonNull {
				return nil, variableError(vd, fmt.Sprintf(
					`Variable "$%s" of required type %q was not provided.`,
					vd.Variable, vd.Type.String()), nil)
			}
			continue
		}
		if value == nil && vd.Type.NonNull {
			return nil, variableError(vd, fmt.Sprintf(
				`Variable "$%s" of non-null type %q must not be null.`,
				vd.Variable, vd.Type.String()), nil)
		}
		coerced[vd.Variable] = value
	}
	return coerced, nil
}

func variableError(vd *ast.VariableDefinition, message string, err error) *Error {
	return &Error{
		Message:   message,
		NodeKinds: []string{"VariableDefinition"},
		Err:       err,
	}
}
