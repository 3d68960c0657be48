// Package command defines the otamesh-cli command tree.
//
// Commands map one-to-one onto the admin API:
//
//   - dimension: the dimension registry
//   - release: release lifecycle and rollout
//   - file, package: the package catalog
//   - resolve, analytics: resolution preview and adoption reports
//   - system, config, shell: server health, backups, local settings and the
//     interactive shell
//
// Every action follows the same pattern: parse flags, call the server
// through connection.HTTPClient and render the result with the output
// package.
package command
