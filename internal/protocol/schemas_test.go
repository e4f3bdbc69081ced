package protocol_test

import (
	"encoding/json"
	"testing"

	"voxelfleet.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	s, err := protocol.CompileSchemas("../../schemas")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	validate := func(sch interface{ Validate(any) error }, raw string) {
		t.Helper()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal sample: %v", err)
		}
		if err := sch.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	validate(s.Command, `{
	  "type":"COMMAND",
	  "protocol_version":"1.0",
	  "ref":"c1",
	  "sender_id":"U100",
	  "trust":2,
	  "text":"!goto alpha 10 0 0"
	}`)

	validate(s.Result, `{
	  "type":"RESULT",
	  "protocol_version":"1.0",
	  "ref":"c1",
	  "ok":false,
	  "code":"E_UNAUTHORIZED",
	  "lines":["unauthorized"]
	}`)

	validate(s.Notify, `{
	  "type":"NOTIFY",
	  "protocol_version":"1.0",
	  "agent_id":"alpha",
	  "message":"arrived at (10,0,0)"
	}`)
}

func TestSchemas_RejectBadCommand(t *testing.T) {
	s, err := protocol.CompileSchemas("../../schemas")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// Missing sender_id.
	err = s.ValidateCommand([]byte(`{"type":"COMMAND","protocol_version":"1.0","text":"!stop"}`))
	if err == nil {
		t.Fatalf("expected validation failure")
	}
}

func TestErrorCodes_Known(t *testing.T) {
	for _, code := range []string{
		protocol.ErrUnauthorized,
		protocol.ErrTargetNotFound,
		protocol.ErrNavNoPath,
		protocol.ErrNavTimeout,
		protocol.ErrNavStuck,
		protocol.ErrEngagementLost,
		protocol.ErrStoreUnavailable,
	} {
		if !protocol.IsKnownCode(code) {
			t.Fatalf("code %s not registered", code)
		}
	}
	if protocol.IsKnownCode("E_NOT_A_CODE") {
		t.Fatalf("unknown code accepted")
	}
}

func TestCodeOf(t *testing.T) {
	err := protocol.NewError(protocol.ErrTargetNotFound, "agent zed")
	if got := protocol.CodeOf(err); got != protocol.ErrTargetNotFound {
		t.Fatalf("CodeOf: got %s", got)
	}
	if got := protocol.CodeOf(json.Unmarshal([]byte("{"), &struct{}{})); got != protocol.ErrInternal {
		t.Fatalf("uncoded error: got %s", got)
	}
}
