package models

// FilterOp is a comparison operator accepted in list filters
type FilterOp string

const (
	OpEq  FilterOp = "eq"
	OpNeq FilterOp = "neq"
	OpGt  FilterOp = "gt"
	OpGte FilterOp = "gte"
	OpLt  FilterOp = "lt"
	OpLte FilterOp = "lte"
	OpIn  FilterOp = "in"
)

// ValueType names the typed column a filter or sort key binds to
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeInt     ValueType = "int"
	ValueTypeNumeric ValueType = "numeric"
	ValueTypeBool    ValueType = "bool"
)

// Filter is one parsed list-filter condition. Field names either a
// base column, "tags"/"tags-any", or a custom property (with KeyName
// set for dict element access).
type Filter struct {
	Field   string
	KeyName string
	Op      FilterOp
	Type    ValueType
	Values  []any
}

// SortDirection orders a sort key
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortKey is one parsed sort condition
type SortKey struct {
	Field     string
	Direction SortDirection
	Type      ValueType

	// Property is true when Field names a custom property rather
	// than a base column
	Property bool
}

// ListParams bundles everything a list query needs
type ListParams struct {
	Filters []Filter
	Sort    []SortKey

	// Marker is the id of the last artifact of the previous page
	Marker string
	Limit  int

	// Latest keeps only the highest version per (owner, name)
	Latest bool

	// ListAll lets an admin see artifacts of every tenant
	ListAll bool
}
