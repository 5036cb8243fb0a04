package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestBody(t *testing.T) {
	v := MustNew()

	tests := []struct {
		name    string
		schema  string
		body    string
		wantErr string
	}{
		{name: "register ok", schema: Register, body: `{"email":"a@example.com","password":"hunter22!","phone":null}`},
		{name: "register short password", schema: Register, body: `{"email":"a@example.com","password":"short"}`, wantErr: "password"},
		{name: "register bad email", schema: Register, body: `{"email":"nope","password":"longenough"}`, wantErr: "email"},
		{name: "login missing password", schema: Login, body: `{"email":"a@example.com"}`, wantErr: "password"},
		{name: "upload ok", schema: Upload, body: `{"video_data":"data:video/mp4;base64,AAAA","location_lat":37.7,"location_lng":-122.4}`},
		{name: "upload null coordinates", schema: Upload, body: `{"video_data":"data:video/mp4;base64,AAAA","location_lat":null,"location_lng":null,"phone_number":"Unknown device"}`},
		{name: "upload latitude out of range", schema: Upload, body: `{"video_data":"data:video/mp4;base64,AAAA","location_lat":91}`, wantErr: "location_lat"},
		{name: "upload not a data uri", schema: Upload, body: `{"video_data":"AAAA"}`, wantErr: "video_data"},
		{name: "malformed json", schema: Login, body: `{`, wantErr: "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Body(tt.schema, []byte(tt.body))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidBody) {
				t.Fatalf("expected ErrInvalidBody, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q in %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestBodyUnknownSchema(t *testing.T) {
	if err := MustNew().Body("missing", []byte(`{}`)); err == nil || errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
