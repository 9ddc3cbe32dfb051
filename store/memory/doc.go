// Package memory is an in-process credential store implementing
// authcore.Store. It is meant for tests and single-node development; all
// state is lost on restart.
package memory
