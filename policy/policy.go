// Package policy synthesizes PostgreSQL row-level security policy SQL.
//
// A policy is described by a Spec: the protected table, the ordered set of
// protected fields, and the session namespace prefix. Spec generation is
// deterministic: the same table, field set, and prefix always produce
// byte-identical SQL, so regenerating a policy never causes migration churn
// and forward/reverse statements stay symmetric.
package policy

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/syssam/rls"
	"github.com/syssam/rls/schema/field"
)

// SQLType maps an abstract column type to the SQL scalar used when casting
// session variables in policy predicates. Unmapped types degrade to text:
// the predicate then falls back to string comparison instead of failing on
// exotic column types.
func SQLType(t field.Type) string {
	switch t {
	case field.TypeInt, field.TypeInt8, field.TypeInt16, field.TypeInt32,
		field.TypeUint8, field.TypeUint16:
		return "int"
	case field.TypeInt64, field.TypeUint, field.TypeUint32, field.TypeUint64:
		return "bigint"
	case field.TypeUUID:
		return "uuid"
	case field.TypeBool:
		return "boolean"
	default:
		return "text"
	}
}

// ProtectedField is a column gated by the policy predicate. Immutable once
// derived from schema introspection.
type ProtectedField struct {
	Name    string
	SQLType string
}

// NewField returns a ProtectedField for the given column name and type.
func NewField(name string, t field.Type) ProtectedField {
	return ProtectedField{Name: name, SQLType: SQLType(t)}
}

// Spec describes a row security policy on a single table.
type Spec struct {
	// Table is the protected table name.
	Table string
	// Fields is the ordered set of protected fields. Order follows the
	// configured candidate list, not the table's column order.
	Fields []ProtectedField
	// Prefix is the session variable namespace, e.g. "rls".
	Prefix string
}

// NewSpec returns a Spec for the given table, fields, and prefix. An empty
// prefix defaults to rls.DefaultSessionPrefix.
func NewSpec(table string, fields []ProtectedField, prefix string) Spec {
	if prefix == "" {
		prefix = rls.DefaultSessionPrefix
	}
	return Spec{Table: table, Fields: fields, Prefix: prefix}
}

// Name returns the policy name, a deterministic function of the table name.
func (s Spec) Name() string {
	return s.Table + "_rls_policy"
}

// SessionKey returns the session variable name for a protected field.
func (s Spec) SessionKey(field string) string {
	return s.Prefix + "." + field
}

// Clause returns the boolean predicate used both for filtering visible rows
// (USING) and validating written rows (WITH CHECK): the AND of one sub-clause
// per protected field, so every field must independently authorize the row.
//
// Each sub-clause evaluates, in order:
//
//  1. session variable unset (NULL)      -> FALSE
//  2. session variable empty string      -> FALSE
//  3. session variable = None wildcard   -> FALSE
//  4. session variable = All wildcard    -> TRUE
//  5. otherwise column = variable cast to the field's SQL type
//
// An unset or empty context therefore denies access, while the wildcards
// bypass or deny filtering per field without touching the other fields.
func (s Spec) Clause() string {
	clauses := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		key := pq.QuoteLiteral(s.SessionKey(f.Name))
		clauses = append(clauses, fmt.Sprintf(`(
    CASE
        WHEN current_setting(%[1]s, true) IS NULL THEN FALSE
        WHEN current_setting(%[1]s) = '' THEN FALSE
        WHEN current_setting(%[1]s) = %[2]s THEN FALSE
        WHEN current_setting(%[1]s) = %[3]s THEN TRUE
        ELSE %[4]s = current_setting(%[1]s)::%[5]s
    END
)`,
			key,
			pq.QuoteLiteral(string(rls.None)),
			pq.QuoteLiteral(string(rls.All)),
			pq.QuoteIdentifier(f.Name),
			f.SQLType,
		))
	}
	return strings.Join(clauses, " AND\n")
}

// ForwardStatements returns the ordered, idempotent statements that attach
// the policy: drop any previous policy, create the policy for all commands,
// enable row security, and force it so even the table owner is subject to
// the policy.
func (s Spec) ForwardStatements() []string {
	var (
		policy = pq.QuoteIdentifier(s.Name())
		table  = pq.QuoteIdentifier(s.Table)
		clause = s.Clause()
	)
	return []string{
		fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s;", policy, table),
		fmt.Sprintf("CREATE POLICY %s ON %s FOR ALL USING (%s) WITH CHECK (%s);", policy, table, clause, clause),
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY;", table),
		fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY;", table),
	}
}

// ReverseStatements returns the exact inverse of ForwardStatements: unforce,
// disable, drop. Applying them after the forward statements restores the
// table to its pre-policy state.
func (s Spec) ReverseStatements() []string {
	var (
		policy = pq.QuoteIdentifier(s.Name())
		table  = pq.QuoteIdentifier(s.Table)
	)
	return []string{
		fmt.Sprintf("ALTER TABLE %s NO FORCE ROW LEVEL SECURITY;", table),
		fmt.Sprintf("ALTER TABLE %s DISABLE ROW LEVEL SECURITY;", table),
		fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s;", policy, table),
	}
}

// ForwardSQL returns the forward statements as a single SQL script.
func (s Spec) ForwardSQL() string {
	return strings.Join(s.ForwardStatements(), "\n")
}

// ReverseSQL returns the reverse statements as a single SQL script.
func (s Spec) ReverseSQL() string {
	return strings.Join(s.ReverseStatements(), "\n")
}
