package forwarder

/* Outcome is the final state of one delivery attempt cycle for a message
 * Only Delivered leads to the message being deleted from the queue
 */
type Outcome int

const (
	Delivered Outcome = iota + 1
	Failed
	Abandoned
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}
