// Package vm implements the Kumo virtual machine.
//
// This package contains:
//   - the tagged runtime value representation
//   - bytecode opcode definitions, builder, and decoder
//   - the function table and per-frame call stack
//   - the fetch-decode-execute interpreter
package vm
