// Package handle provides the execution-handle transports for cluster units.
//
// Three Spawner implementations are available, selected by configuration at
// manager construction time:
//
//   - ThreadSpawner runs each unit as a goroutine sharing the controller's
//     memory. Messages still cross a serialization boundary, so payload
//     constraints behave identically to the process transport.
//   - ProcessSpawner runs each unit as an isolated OS process, exchanging
//     length-delimited JSON frames over the child's stdin/stdout pipes.
//   - NATSSpawner attaches units running on remote machines through NATS
//     subjects. The remote process itself is launched by an external
//     supervisor; the spawner only establishes the message channel.
//
// All three satisfy types.Spawner and produce handles the registry treats
// identically.
package handle
