package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callbridge/internal/config"
)

func TestTwilioSMS_SendsFormPayload(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody string
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotBody = r.PostFormValue("Body")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sms := NewTwilioSMS(config.SMSConfig{AccountSID: "AC123", AuthToken: "tok", FromNumber: "+15550001111"})
	sms.baseURL = srv.URL

	err := sms.Send(context.Background(), Message{To: "+15550002222", Body: "reminder"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotUser != "AC123" {
		t.Fatalf("basic auth user = %q", gotUser)
	}
	if gotTo != "+15550002222" || gotFrom != "+15550001111" || gotBody != "reminder" {
		t.Fatalf("form = to %q from %q body %q", gotTo, gotFrom, gotBody)
	}
}

func TestTwilioSMS_RejectionIsSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": 21211, "message": "invalid 'To' number"}`))
	}))
	defer srv.Close()

	sms := NewTwilioSMS(config.SMSConfig{AccountSID: "AC123", AuthToken: "tok", FromNumber: "+15550001111"})
	sms.baseURL = srv.URL

	err := sms.Send(context.Background(), Message{To: "garbage", Body: "x"})
	if !errors.Is(err, ErrSendFailure) {
		t.Fatalf("expected ErrSendFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "21211") {
		t.Fatalf("expected provider code in error, got %v", err)
	}
}

func TestBuildMIME_PlainAndHTML(t *testing.T) {
	plain := string(buildMIME("ops@example.com", Message{To: "a@example.com", Subject: "hi", Body: "hello"}))
	if !strings.Contains(plain, "Content-Type: text/plain; charset=UTF-8") {
		t.Fatalf("plain mime missing content type:\n%s", plain)
	}
	if !strings.Contains(plain, "Subject: hi") || !strings.Contains(plain, "\r\n\r\nhello") {
		t.Fatalf("plain mime malformed:\n%s", plain)
	}

	html := string(buildMIME("ops@example.com", Message{To: "a@example.com", CC: []string{"b@example.com"}, Subject: "hi", Body: "<b>hello</b>", HTML: true}))
	if !strings.Contains(html, "Content-Type: text/html; charset=UTF-8") {
		t.Fatalf("html mime missing content type:\n%s", html)
	}
	if !strings.Contains(html, "Cc: b@example.com") {
		t.Fatalf("cc header missing:\n%s", html)
	}
}

// timeoutSender always times out; used to exercise retry.
type timeoutSender struct{ calls int }

func (s *timeoutSender) Name() string { return "stub" }
func (s *timeoutSender) Send(context.Context, Message) error {
	s.calls++
	return ErrTimeout
}

func TestRetrying_RetriesTimeoutsOnly(t *testing.T) {
	stub := &timeoutSender{}
	r := Retrying{Sender: stub, Attempts: 3, Pause: time.Millisecond}

	err := r.Send(context.Background(), Message{To: "+15550002222"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if stub.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", stub.calls)
	}
}

// rejectingSender fails permanently on the first call.
type rejectingSender struct{ calls int }

func (s *rejectingSender) Name() string { return "stub" }
func (s *rejectingSender) Send(context.Context, Message) error {
	s.calls++
	return ErrSendFailure
}

func TestRetrying_DoesNotRetryRejections(t *testing.T) {
	stub := &rejectingSender{}
	r := Retrying{Sender: stub, Attempts: 3, Pause: time.Millisecond}

	if err := r.Send(context.Background(), Message{}); !errors.Is(err, ErrSendFailure) {
		t.Fatalf("expected ErrSendFailure, got %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected single attempt, got %d", stub.calls)
	}
}
