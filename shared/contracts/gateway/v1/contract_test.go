package v1

import (
	"encoding/json"
	"testing"
)

func TestDecodeFrame_AcceptsBothSpellings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "short keys", in: `{"t":"MESSAGE_SEND","d":{"teamId":"t1"}}`, want: EventMessageSend},
		{name: "long keys", in: `{"type":"channel_deleted","data":{"teamId":"t1"}}`, want: EventChannelDeleted},
		{name: "padded", in: "  \n{\"t\":\" ready \",\"d\":{}}\n", want: EventReady},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f, err := DecodeFrame([]byte(tc.in))
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if f.Name() != tc.want {
				t.Fatalf("Name()=%q want=%q", f.Name(), tc.want)
			}
			if len(f.Data) == 0 {
				t.Fatalf("expected data to be populated")
			}
		})
	}
}

func TestDecodeFrame_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "not json", `{"d":{}}`, `{"t":"  "}`} {
		if _, err := DecodeFrame([]byte(in)); err == nil {
			t.Fatalf("DecodeFrame(%q): expected error", in)
		}
	}
}

func TestNewHeartbeat_WireShape(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(NewHeartbeat())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `{"t":"HEARTBEAT","d":{}}`; got != want {
		t.Fatalf("heartbeat=%s want=%s", got, want)
	}
}

func TestKnownEvents_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, len(KnownEvents))
	for _, e := range KnownEvents {
		if _, dup := seen[e]; dup {
			t.Fatalf("duplicate event name %q", e)
		}
		seen[e] = struct{}{}
	}
}
