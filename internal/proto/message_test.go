package proto

import (
	"encoding/json"
	"testing"
)

func TestRegisterDataAcceptsBareString(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want RegisterData
	}{
		{name: "bare string", raw: `"alice"`, want: RegisterData{User: "alice"}},
		{name: "object", raw: `{"user":"bob","token":"t","protocol":1}`, want: RegisterData{User: "bob", Token: "t", Protocol: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got RegisterData
			if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDeleteDataAcceptsBareString(t *testing.T) {
	var d DeleteData
	if err := json.Unmarshal([]byte(`"abc"`), &d); err != nil || d.ID != "abc" {
		t.Fatalf("bare id: %+v, %v", d, err)
	}
	if err := json.Unmarshal([]byte(`{"id":"xyz"}`), &d); err != nil || d.ID != "xyz" {
		t.Fatalf("object id: %+v, %v", d, err)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{float64(1), true},
		{float64(0), false},
		{"true", true},
		{"false", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Truthy(tt.in); got != tt.want {
			t.Fatalf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFileDescriptorPayload(t *testing.T) {
	f := NewFileDescriptor("hello.txt", "text/plain", []byte("hello"))
	content, err := f.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeFileDescriptor(content)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	payload, err := decoded.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if string(payload) != "hello" || decoded.Size != 5 || decoded.MimeType != "text/plain" {
		t.Fatalf("unexpected descriptor: %+v / %q", decoded, payload)
	}

	if _, err := DecodeFileDescriptor(`{"name":"x"`); err == nil {
		t.Fatal("expected error for truncated descriptor")
	}
}
