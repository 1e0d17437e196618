// Package config defines the configuration of a node.
//
// Whether a node is started from Go code or from the command line, it uses
// the Config object defined in this package. The CLI fills it from flags and
// from an optional mavnode.toml (or .yaml, .json) in the data directory,
// which may also contain:
//
//  signing_key // (optional) a plain text file holding the hex signing key (cf. mavnode keygen).
package config
