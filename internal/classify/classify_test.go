package classify

import (
	"errors"
	"testing"
)

func TestFromTransport(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		retryable bool
		rotate    bool
	}{
		{
			name:      "context deadline",
			err:       errors.New("context deadline exceeded (Client.Timeout exceeded)"),
			wantKind:  KindTimeout,
			retryable: true,
		},
		{
			name:      "etimedout",
			err:       errors.New("dial tcp: ETIMEDOUT"),
			wantKind:  KindTimeout,
			retryable: true,
		},
		{
			name:      "connection refused",
			err:       errors.New("dial tcp 127.0.0.1:9: ECONNREFUSED"),
			wantKind:  KindNetwork,
			retryable: true,
		},
		{
			name:      "dns failure",
			err:       errors.New("lookup api.example.com: ENOTFOUND"),
			wantKind:  KindNetwork,
			retryable: true,
		},
		{
			name:      "socket closed",
			err:       errors.New("read: socket closed by peer"),
			wantKind:  KindNetwork,
			retryable: true,
		},
		{
			name:      "unrecognized",
			err:       errors.New("something odd happened"),
			wantKind:  KindUnknown,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ue := FromTransport(tt.err)
			if ue.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ue.Kind, tt.wantKind)
			}
			if ue.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", ue.Retryable, tt.retryable)
			}
			if ue.RotateKey != tt.rotate {
				t.Errorf("RotateKey = %v, want %v", ue.RotateKey, tt.rotate)
			}
		})
	}
}

func TestFromResponse_StatusPolicy(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  Kind
		retryable bool
		rotate    bool
	}{
		{401, KindAuthFailure, false, true},
		{403, KindAuthFailure, false, true},
		{429, KindRateLimit, true, true},
		{402, KindQuotaExceeded, false, true},
		{400, KindInvalidRequest, false, false},
		{404, KindInvalidRequest, false, false},
		{500, KindUpstream, true, false},
		{502, KindUpstream, true, false},
		{503, KindUpstream, true, false},
		{418, KindInvalidRequest, false, false},
	}

	for _, tt := range tests {
		ue := FromResponse(tt.status, nil)
		if ue.Kind != tt.wantKind {
			t.Errorf("status %d: Kind = %s, want %s", tt.status, ue.Kind, tt.wantKind)
		}
		if ue.Retryable != tt.retryable {
			t.Errorf("status %d: Retryable = %v, want %v", tt.status, ue.Retryable, tt.retryable)
		}
		if ue.RotateKey != tt.rotate {
			t.Errorf("status %d: RotateKey = %v, want %v", tt.status, ue.RotateKey, tt.rotate)
		}
	}
}

func TestExtractMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "openai envelope",
			body: `{"error":{"message":"invalid api key","code":"invalid_api_key"}}`,
			want: "invalid api key",
		},
		{
			name: "anthropic envelope",
			body: `{"type":"error","error":{"message":"overloaded","type":"overloaded_error"}}`,
			want: "overloaded",
		},
		{
			name: "flat shape",
			body: `{"message":"quota exceeded","code":402}`,
			want: "quota exceeded",
		},
		{
			name: "bare string",
			body: `"service unavailable"`,
			want: "service unavailable",
		},
		{
			name: "garbage",
			body: `<html>502 Bad Gateway</html>`,
			want: "",
		},
		{
			name: "empty",
			body: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractMessage([]byte(tt.body)); got != tt.want {
				t.Errorf("extractMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify_TransportWins(t *testing.T) {
	ue := Classify(429, []byte(`{"error":{"message":"rate limited"}}`), errors.New("dial timeout"))
	if ue.Kind != KindTimeout {
		t.Errorf("Kind = %s, want %s (transport error must take precedence)", ue.Kind, KindTimeout)
	}
}
