// Package announce keeps the paths to local destinations fresh by
// announcing them on a fixed interval.
//
// A Scheduler holds a set of inbound single destinations and, while
// running, emits one announce per destination each interval through an
// Announcer, normally the node's *transport.Transport. A failed announce is
// logged and counted; it never stops the round.
package announce
