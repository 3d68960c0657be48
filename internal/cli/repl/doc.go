// Package repl implements the interactive shell of otamesh-cli.
//
// Each line is split like a POSIX shell word list and handed to an
// Executor, so the shell accepts exactly the one-shot command syntax.
// History is kept in ~/.otamesh/history.
package repl
