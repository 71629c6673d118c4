package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/incident-console/internal/engine"
	"github.com/miradorstack/incident-console/internal/utils"
)

// DecodeStruct maps a request message onto v through its JSON form.
func DecodeStruct(msg *structpb.Struct, v any) error {
	if msg == nil {
		msg = &structpb.Struct{}
	}
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return utils.NewValidationError("", "malformed request: "+err.Error())
	}
	return nil
}

// EncodeStruct maps v onto a response message through its JSON form. v must
// encode as a JSON object.
func EncodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return structpb.NewStruct(m)
}

// ToStatus converts a domain error to a gRPC status error. details, when
// non-nil, is attached to the status so callers can still read partial
// results.
func ToStatus(err error, details any) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	var (
		stageErr *engine.StageError
		remote   *utils.RemoteError
	)
	switch {
	case utils.IsValidation(err):
		code = codes.InvalidArgument
	case errors.As(err, &stageErr):
		code = codes.Aborted
	case utils.IsNotFound(err):
		code = codes.NotFound
	case errors.As(err, &remote):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}

	st := status.New(code, err.Error())
	if details == nil {
		return st.Err()
	}
	msg, encErr := EncodeStruct(details)
	if encErr != nil {
		return st.Err()
	}
	if withDetails, detErr := st.WithDetails(msg); detErr == nil {
		return withDetails.Err()
	}
	return st.Err()
}

// StatusDetails returns the first structpb.Struct attached to err's status.
func StatusDetails(err error) (*structpb.Struct, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, d := range st.Details() {
		if msg, ok := d.(*structpb.Struct); ok {
			return msg, true
		}
	}
	return nil, false
}
