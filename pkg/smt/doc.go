// Package smt holds the values exchanged with solver pools: the solver
// flavor selector, scripts of rendered SMT-LIB commands, and the tagged
// outcome of a satisfiability query.
package smt
