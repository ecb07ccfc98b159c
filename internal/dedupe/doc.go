// Package dedupe tracks recently seen keys so that redelivered inbound units
// are handled only once within a time window.
package dedupe
