// Package main provides the entry point for otamesh-cli.
//
// The CLI manages an OTAMesh server through its admin API:
//
//	otamesh-cli dimension list
//	otamesh-cli release create --package 3 --filter region=us --rollout 10
//	otamesh-cli release ramp --percent 50 01J...
//	otamesh-cli resolve --device d-42 --context region=us
//	otamesh-cli -o json analytics adoption --since 72h 01J...
//	otamesh-cli shell
package main
