// Package textutil cleans user-supplied names before they are stored.
package textutil
