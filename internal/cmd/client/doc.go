// Package clientcmd implements the norishd client subcommands that talk to a
// running server over its HTTP API.
package clientcmd
