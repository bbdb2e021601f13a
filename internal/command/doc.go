// Package command provides the command-whitelisting and authorization engine.
//
// A Registry holds immutable command definitions loaded once at startup:
// canonical name, aliases, security classification, required permissions,
// blocked argument patterns, risk score and MFA requirement. Lookups are O(1)
// by name or alias. Runtime mutation is not supported; restarting the process
// is the only way to change the registry.
//
// Roles form a directed acyclic graph: a role's effective permission set is
// the union of its own grants and everything it inherits. The graph is
// flattened into per-role permission sets when the registry is built, and
// cyclic inheritance is rejected at build time.
//
// The Validator applies a fixed check order: unknown command, Blocked
// classification, required permissions, blocked argument patterns, MFA. Each
// rejection carries a stable reason code. A Blocked command is never
// executable, regardless of the caller's permissions.
package command
