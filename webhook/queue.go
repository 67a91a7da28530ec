package webhook

import "context"

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// Sender publishes payloads to the queue
type Sender interface {
	/* Send wraps the payload in a new Message with a fresh ID and publishes it durably
	 * Returns the message ID. Backend failures are wrapped with ErrPublish
	 */
	Send(ctx context.Context, p Payload) (string, error)
}

// Receiver leases messages from the queue
type Receiver interface {
	/* Receive fetches at most one message
	 * Returns nil and no error when the queue is empty
	 * The message stays in the queue until Delete is called with the receipt
	 */
	Receive(ctx context.Context) (*Lease, error)
}

// Deleter acknowledges leased messages
type Deleter interface {
	/* Delete permanently removes the message identified by the receipt
	 * Returns false when the receipt does not match an outstanding lease
	 */
	Delete(ctx context.Context, r Receipt) (bool, error)
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Queue interface {
	Sender
	Receiver
	Deleter
	Close() error
}

// DepthReporter is implemented by backends that can report how many messages are waiting
type DepthReporter interface {
	Depth(ctx context.Context) (int64, error)
}
