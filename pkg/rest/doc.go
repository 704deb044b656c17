// Package rest is the HTTP transport for the gateway. Each table in the
// schema catalog is exposed at /table_name; the HTTP verb selects the
// operation:
//
//	Verb        | Operation
//	------------|----------
//	GET         | read
//	POST        | create
//	PUT, PATCH  | update
//	DELETE      | delete
//
// Write requests carry a JSON body with keys `values` (a row object, or a
// list of row objects for create) and `filters`. Filters have the shape
// {"eq": {"id": 1}, "in": {"name": ["a", "b"]}, "or": [{...}]}. Reads take
// the same filter object URL-encoded in the `filters` query parameter, plus
// optional `columns` (comma-separated), `order` (col or col.desc), `limit`,
// and `offset`.
//
// Tables discovered as many-to-many join tables answer the same verbs:
// GET joins both base tables and returns combined "Table.column" rows,
// POST and DELETE manage association rows, PUT is rejected.
//
// An unrestricted update or delete (no filters) touches every row of the
// table. That is the documented contract, inherited from the service this
// gateway fronts; deploy behind an authorizing proxy.
//
// POST /$batch executes a list of create/update/delete commands in a single
// transaction.
package rest
