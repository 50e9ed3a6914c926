// Package rls provides PostgreSQL row-level security tooling for multi-tenant
// applications: generation of row-filtering policies during schema migration,
// and propagation of a per-request security context into database sessions so
// those policies can evaluate.
//
// The package is organized as follows:
//
//   - rls (this package): configuration and the resolver contracts shared by
//     the migration and request paths.
//   - policy: policy SQL synthesis (predicates, forward/reverse statements).
//   - migrate: the migration pipeline that attaches policies to new tables.
//   - rlshttp: net/http middleware applying the per-request session context.
//   - contrib/ginrls: gin adapter for the middleware.
//   - dialect, dialect/sql: database dialect abstraction and the
//     session-variable aware driver.
//
// Policies generated by this module gate every protected field independently:
// a row is visible only if, for each protected field, the session variable
// {prefix}.{field} authorizes it. An unset or empty variable denies access
// (fail closed); the reserved wildcard literals grant or deny a field
// explicitly.
package rls

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Wildcard is a reserved session-variable literal with special meaning in
// generated policy predicates. The literals are chosen outside any legitimate
// identifier space; real tenant values must never equal them.
type Wildcard string

const (
	// All grants unrestricted access for a single protected field.
	// Policies treat it as TRUE regardless of row content.
	All Wildcard = "__RLS_ALL__"

	// None denies access for a single protected field.
	// Policies treat it as FALSE regardless of row content.
	None Wildcard = "__RLS_NONE__"
)

// DefaultSessionPrefix is the namespace under which session variables are
// set, e.g. "rls.tenant_id".
const DefaultSessionPrefix = "rls"

// NormalizeValue converts a resolver-returned value into the text form stored
// in a session variable. PostgreSQL session variables are text; typed
// comparison happens in the policy predicate via a cast.
//
//   - Wildcard values pass through as their reserved literal.
//   - nil becomes the None literal (explicit "no access").
//   - uuid.UUID and fmt.Stringer values are stringified.
//   - Numeric and boolean values use their canonical string form.
func NormalizeValue(v any) string {
	switch v := v.(type) {
	case Wildcard:
		return string(v)
	case nil:
		return string(None)
	case string:
		return v
	case uuid.UUID:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
