// Package mongo provides a MongoDB-backed implementation of message.Store.
// Build the low-level client via features/message/mongo/clients/mongo and
// pass it to NewStore. The store assigns message IDs and timestamps; the
// client only persists fully formed messages.
package mongo
