package gqlerrors

import "regexp"

// NodeKindVariableDefinition marks an error the execution engine
// attributed to a variable definition node of the operation.
const NodeKindVariableDefinition = "VariableDefinition"

// ErrorShape is the structured description of an engine error that the
// classifier inspects. It deliberately carries only what the matching
// rule needs so the rule stays independently testable.
type ErrorShape struct {
	Message   string
	NodeKinds []string
}

// badUserInputPattern matches the three message prefixes the upstream
// engine produces for variable coercion failures. Known fragility: a
// wording change in the engine silently breaks this reclassification.
var badUserInputPattern = regexp.MustCompile(
	`^Variable "\$\w+" (got invalid value |of required type |of non-null type )`)

// IsBadUserInput reports whether an engine error is a client-caused
// variable coercion failure rather than a server fault. The rule:
// exactly one attributed node, that node is a variable definition, and
// the message carries one of the three fixed coercion prefixes.
func IsBadUserInput(shape ErrorShape) bool {
	return len(shape.NodeKinds) == 1 &&
		shape.NodeKinds[0] == NodeKindVariableDefinition &&
		badUserInputPattern.MatchString(shape.Message)
}

// ClassifyExecution resolves the classification for an error raised by
// the execution engine. Precedence: an explicit code attached to the
// error wins; otherwise the bad-user-input heuristic applies; anything
// left is an internal fault.
func ClassifyExecution(code Code, shape ErrorShape) Code {
	if code != "" {
		return code
	}
	if IsBadUserInput(shape) {
		return CodeBadUserInput
	}
	return CodeInternal
}
