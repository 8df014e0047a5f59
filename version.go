// Package machinetalk provides client libraries for participating in a
// Machinekit HAL control fabric: service discovery over mDNS/DNS-SD and
// the remote-component protocol spoken over ZeroMQ.
//
// The subpackages carry the functionality; this package only holds
// module-wide metadata.
package machinetalk

// VERSION of project.
var VERSION = "undefined" // set during the build process with -ldflags
