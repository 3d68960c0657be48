// Package config reads and writes the otamesh-cli settings file
// (~/.otamesh/cli.yaml). It holds the default server and output format and
// a set of named servers that --server accepts in place of a URL.
package config
