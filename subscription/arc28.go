package subscription

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/abi"
	"go.uber.org/zap"

	"github.com/0xmhha/subscriber-go/types"
)

// Arc28DecodeError reports a failure to decode an event's arguments from a
// log entry whose prefix matched the event signature.
type Arc28DecodeError struct {
	GroupName string
	EventName string
	Err       error
}

func (e *Arc28DecodeError) Error() string {
	return fmt.Sprintf("decoding arc-28 event %s.%s: %v", e.GroupName, e.EventName, e.Err)
}

func (e *Arc28DecodeError) Unwrap() error {
	return e.Err
}

// compiledArc28Event is one registered event with its precomputed log
// prefix and argument tuple type.
type compiledArc28Event struct {
	group     *types.Arc28EventGroup
	event     types.Arc28Event
	signature string
	prefix    [4]byte
	tupleType abi.Type
}

// arc28Registry holds the flattened event list for one poll, compiled once
// so log scanning only compares 4-byte prefixes.
type arc28Registry struct {
	groups []types.Arc28EventGroup
	events []compiledArc28Event
}

// compileArc28Groups flattens the registered event groups, precomputing each
// event's signature prefix and argument tuple type.
func compileArc28Groups(groups []types.Arc28EventGroup) (*arc28Registry, error) {
	reg := &arc28Registry{groups: groups}
	for i := range groups {
		group := &reg.groups[i]
		for _, event := range group.Events {
			sig := event.Signature()
			digest := sha512.Sum512_256([]byte(sig))

			argTypes := make([]string, len(event.Args))
			for j, arg := range event.Args {
				argTypes[j] = arg.Type
			}
			tupleType, err := abi.TypeOf("(" + strings.Join(argTypes, ",") + ")")
			if err != nil {
				return nil, fmt.Errorf("compiling arc-28 event %s.%s: %w", group.GroupName, event.Name, err)
			}

			compiled := compiledArc28Event{
				group:     group,
				event:     event,
				signature: sig,
				tupleType: tupleType,
			}
			copy(compiled.prefix[:], digest[:4])
			reg.events = append(reg.events, compiled)
		}
	}
	return reg, nil
}

func (r *arc28Registry) empty() bool {
	return r == nil || len(r.events) == 0
}

// groupApplies reports whether a group is in scope for the given normalized
// application call.
func groupApplies(group *types.Arc28EventGroup, txn *types.SubscribedTransaction) bool {
	if len(group.ProcessForAppIDs) > 0 {
		appID := effectiveAppID(txn)
		found := false
		for _, id := range group.ProcessForAppIDs {
			if id == appID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if group.ProcessTransaction != nil && !group.ProcessTransaction(txn) {
		return false
	}
	return true
}

// effectiveAppID is the called application's ID, falling back to the created
// application ID for application creates.
func effectiveAppID(txn *types.SubscribedTransaction) uint64 {
	if txn.Application == nil {
		return 0
	}
	if txn.Application.ApplicationID != 0 {
		return txn.Application.ApplicationID
	}
	return txn.CreatedAppID
}

// decodeEvents scans the transaction's logs for registered event prefixes
// and decodes the matching entries. Decode failures are skipped for groups
// with ContinueOnError set, and fatal otherwise.
func (r *arc28Registry) decodeEvents(txn *types.SubscribedTransaction, logger *zap.Logger) ([]types.EmittedArc28Event, error) {
	if r.empty() || txn.Application == nil || len(txn.Logs) == 0 {
		return nil, nil
	}

	var applicable []int
	for i := range r.events {
		if groupApplies(r.events[i].group, txn) {
			applicable = append(applicable, i)
		}
	}
	if len(applicable) == 0 {
		return nil, nil
	}

	var emitted []types.EmittedArc28Event
	for _, log := range txn.Logs {
		if len(log) < 4 {
			continue
		}
		for _, i := range applicable {
			compiled := &r.events[i]
			if [4]byte{log[0], log[1], log[2], log[3]} != compiled.prefix {
				continue
			}

			value, err := compiled.tupleType.Decode(log[4:])
			if err != nil {
				if compiled.group.ContinueOnError {
					logger.Warn("Skipping undecodable arc-28 event log",
						zap.String("group", compiled.group.GroupName),
						zap.String("event", compiled.event.Name),
						zap.String("transaction_id", txn.ID),
						zap.Error(err),
					)
					continue
				}
				return nil, &Arc28DecodeError{
					GroupName: compiled.group.GroupName,
					EventName: compiled.event.Name,
					Err:       err,
				}
			}

			args, ok := value.([]interface{})
			if !ok {
				args = []interface{}{value}
			}
			out := types.EmittedArc28Event{
				GroupName:      compiled.group.GroupName,
				EventName:      compiled.event.Name,
				EventSignature: compiled.signature,
				EventPrefix:    hex.EncodeToString(compiled.prefix[:]),
				Args:           args,
			}
			for j, arg := range compiled.event.Args {
				if arg.Name == "" || j >= len(args) {
					continue
				}
				if out.ArgsByName == nil {
					out.ArgsByName = make(map[string]interface{})
				}
				out.ArgsByName[arg.Name] = args[j]
			}
			emitted = append(emitted, out)
		}
	}
	return emitted, nil
}

// hasEmittedEvent reports whether any log carries the prefix of an in-scope
// event named by the filter's event references. Used by the filter engine;
// no argument decoding happens here.
func (r *arc28Registry) hasEmittedEvent(refs []types.Arc28EventReference, logs [][]byte, txn func() (*types.SubscribedTransaction, error)) (bool, error) {
	if r.empty() || len(refs) == 0 || len(logs) == 0 {
		return false, nil
	}
	for _, log := range logs {
		if len(log) < 4 {
			continue
		}
		for i := range r.events {
			compiled := &r.events[i]
			if [4]byte{log[0], log[1], log[2], log[3]} != compiled.prefix {
				continue
			}
			referenced := false
			for _, ref := range refs {
				if ref.GroupName == compiled.group.GroupName && ref.EventName == compiled.event.Name {
					referenced = true
					break
				}
			}
			if !referenced {
				continue
			}
			normalized, err := txn()
			if err != nil {
				return false, err
			}
			if groupApplies(compiled.group, normalized) {
				return true, nil
			}
		}
	}
	return false, nil
}
