// Package proratatest provides helpers for testing code built on top of
// this module.
package proratatest
