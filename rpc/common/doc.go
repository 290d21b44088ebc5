// Package common provides the configuration structures, the wire protocol and
// the logging setup shared by the storage node and the query client.
//
// The package focuses on:
//   - Wire protocol definition between query client and storage nodes
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Protocol: one request line (the author) per connection, answered by a
//     single response line. NotFoundPrefix and DuplicatePrefix are the fixed
//     sentinel literals of the protocol, Classify maps a response to its
//     ResponseKind. NewRequest, ParseRequest and the New*Response functions
//     build and parse the individual lines.
//
//   - ServerConfig: configuration of a storage node, including the listen
//     endpoint, data directory, connection limits, deadlines and the duplicate
//     suppression window.
//
//   - ClientConfig: the cluster layout (servers and chunk assignment) plus
//     timeouts and the worker limit of the scatter-gather executor.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger factory and provides consistent formatting across the application.
//     Every package obtains its logger with logger.GetLogger(name), InitLoggers
//     installs the factory and sets the level of all of them.
package common
