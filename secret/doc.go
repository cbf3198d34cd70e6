// Package secret resolves secret values referenced from configuration.
//
// A configuration value is first expanded with ExpandEnvStrict, so ${VAR}
// must name a set environment variable. If the result has the form
//
//	secretref:<provider>:<ref>
//
// the named Provider returns the actual value. Two providers are built in:
// "env" reads an environment variable and "file" reads a file, trimming one
// trailing newline, which suits mounted container secrets.
package secret
