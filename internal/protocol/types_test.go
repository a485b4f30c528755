package protocol

import (
	"encoding/json"
	"testing"
)

func TestNotificationDetection(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), &req); err != nil {
		t.Fatal(err)
	}
	if !req.IsNotification() {
		t.Fatal("request without id not treated as notification")
	}

	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":0,"method":"initialize"}`), &req); err != nil {
		t.Fatal(err)
	}
	if req.IsNotification() {
		t.Fatal("request with id 0 treated as notification")
	}
}

func TestResponseEchoesRawID(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"abc-1","method":"x"}`), &req); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(NewResult(req.ID, map[string]string{"ok": "yes"}))
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID != "abc-1" {
		t.Fatalf("id = %q", out.ID)
	}
}

func TestTextResult(t *testing.T) {
	r := TextResult("Proxy error: down", true)
	if !r.IsError || len(r.Content) != 1 || r.Content[0].Type != "text" {
		t.Fatalf("result = %+v", r)
	}
}
