// Package types contains the shared types and interfaces for the cluster library.
//
// This package exists so internal packages can depend on common definitions
// (Message, Handle, Logger, Hooks, errors, ...) without importing the root
// cluster package, avoiding import cycles. The root package re-exports the
// public surface via type aliases.
package types
