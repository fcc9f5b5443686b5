// Package core provides the domain model shared by the import and export parsers.
//
// This package holds no storage or transport code. It can be used by the web
// server, the queue worker, the CLI, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Descriptors: a (type, bundle) pair naming a kind of domain object.
//   - Schemas: the ordered field list of a descriptor, held in a [Registry].
//   - Entities: field values keyed by field name, loaded and saved through
//     an [EntityStore].
//   - Collaborators: address validation, result-type and term lookups, and
//     authorization, all injected as interfaces.
//
// # Schema Registry
//
// Built-in schemas (organization, group, event, result, data, taxonomy term)
// are registered by [NewRegistry]. Result and data bundles come from stored
// configuration and are refreshed with [Registry.RegisterResultType]:
//
//	reg := core.NewRegistry()
//	reg.RegisterResultType(core.ResultType{
//	    ImportName: "leafleting",
//	    Label:      "Leafleting",
//	    DataTypes:  []core.DataType{{ImportName: "leaflets", Label: "Leaflets"}},
//	})
//
// [Registry.Fields] returns the positional field list used to zip flat value
// arrays with entities: every field except the [Blacklist], in declaration
// order.
//
// # Error Handling
//
// Validation failures are reported as a single [ParserError] carrying an
// [ErrorKind] and a 1-based line and column. [MapError] maps parser and
// technical errors to user-facing messages with a support code:
//
//   - IMP001-IMP009: Import validation errors, one per ErrorKind
//   - DB001-DB004: Storage errors
//   - REQ001-REQ006: Request errors (size, empty file, busy, cancelled)
package core
