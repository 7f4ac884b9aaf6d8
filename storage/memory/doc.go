// Package memory provides an in-memory implementation of every storage
// interface. One RWMutex guards all maps, which makes each check-and-mutate
// operation trivially atomic. State is lost on restart and is not shared
// between instances; use storage/valkey for that.
package memory
