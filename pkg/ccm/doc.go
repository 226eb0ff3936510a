// Package ccm implements consensus cluster membership.
//
// Every node runs an Engine over a transport.Bus. Engines agree on a
// membership list identified by a (major, cookie) pair:
//   - Full rounds elect the lowest candidate as leader, gather each node's
//     view of who it can hear, and settle on a maximum mutually connected
//     subset.
//   - Single joins and leaves in a settled cluster are applied
//     incrementally by the leader.
//   - Partitions that heal are detected through state info exchange and
//     restart membership from scratch.
//
// The engine is single threaded. Step drains pending input and runs the
// state machine; Run drives Step from the bus and a ticker.
package ccm
