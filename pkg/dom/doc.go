// Package dom provides the server-side element tree for Mirror.
//
// The tree is the authoritative copy of the browser DOM. Application code
// mutates Nodes (attributes, properties, children, text, listeners) and the
// Tree records which nodes changed. When a response or push message is
// prepared, CollectChanges diffs every dirty node against the state that was
// last sent to the client and returns an ordered list of Change values.
//
// # Node identity
//
// A Node only has a NodeID while it is attached to a Tree. IDs are assigned
// when a node joins the tree and are never reused. A node that leaves the
// tree and later comes back is announced again under a new id.
//
// # Change order
//
// Changes are emitted in three groups: attach (new nodes), feature changes
// (put, remove, splice) and detach. A splice therefore only references ids
// the client already knows about.
//
// # Client input
//
// DispatchEvent delivers a client event to the matching listener
// registrations, honouring filters, debounce settings, disabled update mode
// and inertness. ApplyPropertySync applies a property value reported by the
// client without echoing it back.
//
// # Concurrency
//
// Trees are not safe for concurrent use. The owning UI serializes all access
// behind its session lock.
package dom
