/*
Package expr compiles and evaluates the boolean conditions used on
declarative edges.

# Expression Syntax

	<expr>       := <expr> 'or' <expr>
	              | <expr> 'and' <expr>
	              | 'not' <expr> | '!' <expr>
	              | '(' <expr> ')'
	              | <comparison>
	              | <value>
	<comparison> := <value> <op> <value>
	<op>         := '==' | '!=' | '<' | '>' | '<=' | '>=' | 'contains'
	<value>      := 'string' | "string" | number | true | false | null | path

'and' binds tighter than 'or'. Operators inside quoted strings are literal.

# Variables

A path is a dotted lookup into the variables map. Edge conditions see the
source node's output under "output":

	output.status == 'done' and output.attempts < 3
	output.text contains 'FINAL'

Vars turns a struct or map into a variables map (json tag names are used
for struct fields).

# Compile once

	e, err := expr.Compile("output.score >= 0.8")
	if err != nil {
	    return err
	}
	ok := e.Eval(map[string]any{"output": map[string]any{"score": 0.9}})

Eval is shorthand for Compile followed by Eval.

# Truthiness

A bare value is evaluated for truthiness: nil, false, "", and zero numbers
are false; everything else is true.
*/
package expr
