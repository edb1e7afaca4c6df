// Package preflight provides readiness checks for the directories reelvault
// writes to.
//
// The daemon runs RunAll at startup and logs failures, and both the live
// status endpoint and the CLI's offline status view report the results so
// an unwritable or nearly full volume shows up before uploads start failing.
package preflight
