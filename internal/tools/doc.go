// Package tools provides the MCP tool set for form management.
//
// # Overview
//
// Tools are the mutation and query surface agents see through the MCP
// endpoint. Each tool has a JSON Schema definition advertised in
// tools/list and a handler invoked by tools/call.
//
// # Tool Set
//
// The package provides 6 tools:
//
//   - list_forms: List forms with optional type, tag, and pagination filters
//   - get_form: Fetch one form by id or path with its full component tree
//   - create_form: Create a managed form (ownership tag applied automatically)
//   - update_form: Update a managed form (title, display, tags, components)
//   - delete_form: Delete a managed form
//   - get_component_schema: Describe component types or fetch one template
//
// # Ownership
//
// Mutating tools only touch forms the bridge owns. A form is managed when
// its title contains the configured title tag or its path starts with the
// configured path prefix. create_form stamps both onto new forms, so
// everything created through the bridge stays mutable through the bridge,
// while forms created elsewhere are read-only.
//
// # Registration
//
// Register the full set on a registry:
//
//	ft := tools.NewFormTools(client, notifier, ownership, logger)
//	ft.RegisterAll(registry)
//
// # Handlers
//
// Each handler is a function with signature:
//
//	func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
//
// Handlers validate their own input and return an error for anything the
// schema cannot express, like the rule that components must be a JSON
// array. After a successful mutation the handler notifies the update
// router (or the relay client in spawned processes) so watchers learn
// about the change.
package tools
