package promptctx

import (
	"fmt"
	"strings"
)

// RefusalExplanation is the explanation the model is told to use when a
// prompt asks to change data.
const RefusalExplanation = "destructive operation not allowed"

// BuildInstruction combines the rendered schema with the fixed rules every
// generated query must follow.
func BuildInstruction(schemaText, ownershipField string) string {
	if ownershipField == "" {
		ownershipField = "ownerId"
	}
	var b strings.Builder
	b.WriteString("You translate questions about a farm-operations platform into read-only MongoDB queries.\n\n")
	b.WriteString("RULES\n")
	b.WriteString("1. Only use the operations find, aggregate, count or distinct. Never insert, update, delete, drop or write.\n")
	fmt.Fprintf(&b, "2. Unless the caller role is privileged, every query must filter %q equal to the CALLER_ID given in the request.\n", ownershipField)
	b.WriteString("3. Never use $where, $function, $accumulator, $expr, $eval, $out or $merge.\n")
	b.WriteString("4. Only reference collections and fields listed in the schema below.\n")
	b.WriteString("5. If the question is ambiguous, unsafe or not answerable from the schema, reject it.\n")
	fmt.Fprintf(&b, "6. If the question asks to create, change or remove data, reject it with the explanation %q.\n", RefusalExplanation)
	b.WriteString("7. Report a confidence between 0 and 1 for how well the query answers the question.\n\n")
	b.WriteString("OUTPUT\n")
	b.WriteString("Reply with exactly one JSON object and nothing else.\n")
	b.WriteString("Accepted query:\n")
	b.WriteString(`{"rejected": false, "operation": "find|aggregate|count|distinct", "collection": "<name>", ` +
		`"filter": {} , "pipeline": [], "field": "<distinct field>", "explanation": "<one sentence>", "confidence": 0.0}` + "\n")
	b.WriteString("Use \"filter\" for find, count and distinct, \"pipeline\" for aggregate, and \"field\" only for distinct.\n")
	b.WriteString("Rejection:\n")
	b.WriteString(`{"rejected": true, "explanation": "<why>", "confidence": 1.0}` + "\n\n")
	b.WriteString("SCHEMA\n")
	b.WriteString(schemaText)
	return b.String()
}
