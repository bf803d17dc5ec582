package solverv1

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"hackohio/solverd/pkg/smt"
)

// CheckBatch request:
//
//	{"scripts": [["(declare-const x Int)", "(check-sat)"], "(assert false)\n(check-sat)"]}
//
// A script is either a list of commands or one string of SMT-LIB text that
// the server splits into top-level commands. Each list entry must hold
// exactly one command; comments in it are dropped.
//
// CheckBatch reply:
//
//	{"results": [{"status": "sat"}, {"status": "error", "message": "..."}]}
const (
	FieldScripts = "scripts"
	FieldResults = "results"
	FieldStatus  = "status"
	FieldMessage = "message"
)

// NewCheckBatchRequest encodes scripts as a CheckBatch request.
func NewCheckBatchRequest(scripts []smt.Script) (*structpb.Struct, error) {
	list := make([]any, len(scripts))
	for i, s := range scripts {
		cmds := make([]any, len(s))
		for j, line := range s.Lines() {
			cmds[j] = line
		}
		list[i] = cmds
	}
	return structpb.NewStruct(map[string]any{FieldScripts: list})
}

// DecodeCheckBatchRequest returns the scripts of a CheckBatch request.
func DecodeCheckBatchRequest(req *structpb.Struct) ([]smt.Script, error) {
	v, ok := req.GetFields()[FieldScripts]
	if !ok {
		return nil, errors.New("missing field \"scripts\"")
	}
	list := v.GetListValue()
	if list == nil {
		return nil, errors.New("field \"scripts\" must be a list")
	}
	out := make([]smt.Script, len(list.GetValues()))
	for i, sv := range list.GetValues() {
		switch k := sv.GetKind().(type) {
		case *structpb.Value_StringValue:
			script, err := smt.SplitCommands(k.StringValue)
			if err != nil {
				return nil, fmt.Errorf("script %d: %w", i, err)
			}
			out[i] = script
		case *structpb.Value_ListValue:
			script := make(smt.Script, 0, len(k.ListValue.GetValues()))
			for j, cv := range k.ListValue.GetValues() {
				s, ok := cv.GetKind().(*structpb.Value_StringValue)
				if !ok {
					return nil, fmt.Errorf("script %d command %d: not a string", i, j)
				}
				cmds, err := smt.SplitCommands(s.StringValue)
				if err != nil {
					return nil, fmt.Errorf("script %d command %d: %w", i, j, err)
				}
				if len(cmds) != 1 {
					return nil, fmt.Errorf("script %d command %d: want exactly one command, got %d", i, j, len(cmds))
				}
				script = append(script, cmds[0])
			}
			out[i] = script
		default:
			return nil, fmt.Errorf("script %d: must be a string or a list of strings", i)
		}
	}
	return out, nil
}

// NewCheckBatchReply encodes results in order.
func NewCheckBatchReply(results []smt.Result) (*structpb.Struct, error) {
	list := make([]any, len(results))
	for i, r := range results {
		entry := map[string]any{FieldStatus: r.Status.String()}
		if r.Message != "" {
			entry[FieldMessage] = r.Message
		}
		list[i] = entry
	}
	return structpb.NewStruct(map[string]any{FieldResults: list})
}

// DecodeCheckBatchReply returns the results of a CheckBatch reply.
func DecodeCheckBatchReply(reply *structpb.Struct) ([]smt.Result, error) {
	list := reply.GetFields()[FieldResults].GetListValue()
	if list == nil {
		return nil, errors.New("reply has no results list")
	}
	out := make([]smt.Result, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		st, err := smt.ParseStatus(fields[FieldStatus].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		out[i] = smt.Result{Status: st, Message: fields[FieldMessage].GetStringValue()}
	}
	return out, nil
}
