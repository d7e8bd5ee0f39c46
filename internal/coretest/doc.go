// Package coretest provides an in-process fake of the central service
// for tests and examples. Core implements the device-facing method
// surface; Conn is a connector.Connector that dispatches CBOR call
// frames into a Core synchronously, so transport behavior like drops
// and reconnects under fresh connection ids can be scripted
// deterministically.
package coretest
