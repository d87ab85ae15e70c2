// Package procedure describes the remote procedures a query layer can call.
//
// It provides typed Descriptor values naming a procedure path together with
// its input and output types, a Registry enumerating the known procedures,
// and the Client interface that transports implement to deliver calls.
package procedure
