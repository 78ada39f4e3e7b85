package types

// Arc28Event declares one ARC-28 event an application may emit via log
// messages, identified on chain by the first four bytes of the SHA-512/256
// hash of its signature.
type Arc28Event struct {
	// Name is the event name, e.g. "Swapped".
	Name string

	// Args declares the event's arguments in order.
	Args []Arc28EventArg
}

// Arc28EventArg is one argument of an ARC-28 event declaration.
type Arc28EventArg struct {
	// Type is the ARC-4 type string, e.g. "uint64" or "(address,uint64)".
	Type string

	// Name optionally labels the argument; named values appear in
	// EmittedArc28Event.ArgsByName.
	Name string
}

// Signature renders the canonical event signature, e.g.
// "Swapped(address,uint64)".
func (e Arc28Event) Signature() string {
	sig := e.Name + "("
	for i, a := range e.Args {
		if i > 0 {
			sig += ","
		}
		sig += a.Type
	}
	return sig + ")"
}

// Arc28EventGroup bundles event declarations with the scoping rules that
// decide which application calls they apply to.
type Arc28EventGroup struct {
	// GroupName identifies the group in filters and emitted events.
	GroupName string

	// Events lists the event declarations of the group.
	Events []Arc28Event

	// ProcessForAppIDs, when non-empty, restricts decoding to calls of the
	// listed applications.
	ProcessForAppIDs []uint64

	// ProcessTransaction, when set, restricts decoding to transactions for
	// which it returns true. Receives the normalized transaction.
	ProcessTransaction func(txn *SubscribedTransaction) bool

	// ContinueOnError suppresses log decode failures for this group,
	// skipping the log entry instead of failing the poll.
	ContinueOnError bool
}

// EmittedArc28Event is one event instance decoded from an application log.
type EmittedArc28Event struct {
	// GroupName and EventName identify the matched declaration.
	GroupName string `json:"group-name"`
	EventName string `json:"event-name"`

	// EventSignature is the canonical signature the prefix was derived from.
	EventSignature string `json:"event-signature"`

	// EventPrefix is the lowercase hex encoding of the 4-byte log prefix.
	EventPrefix string `json:"event-prefix"`

	// Args holds the decoded argument values in declaration order.
	Args []interface{} `json:"args"`

	// ArgsByName holds the decoded values of named arguments.
	ArgsByName map[string]interface{} `json:"args-by-name,omitempty"`
}
