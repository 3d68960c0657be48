// Package config defines the otamesh-server configuration.
//
// Values come from defaults (Default), an optional YAML file and OTAMESH_
// environment variables, merged by confloader. Verify reports every invalid
// setting at once.
package config
