// Package serviceproxy implements the duplex control link between the
// consensus module and each hosted state-machine service: join-log
// notification, snapshot/termination coordination, and the acks, produced
// messages, session closes, and timer requests flowing back from the
// service. The hosted service itself is an external collaborator; this
// package only defines the message shapes and a Link a concrete transport
// for them plugs into, plus an in-process Link for single-binary
// deployments and tests.
package serviceproxy
