/*

Package prorata defines the identity types shared by all packages of this
module. Look into x/split for the ledger itself, errors for the error
handling conventions and store for the state storage primitives.

*/

package prorata
