package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestSMTPMailerFormatsMessage(t *testing.T) {
	m := NewSMTPMailer("mail.example.com:587", "credit-control@example.com", "bot", "secret")
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	err := m.Send(context.Background(), Message{To: "demo@company.com", Subject: "Credit Request\nREQ001", Body: "line one\nline two"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "mail.example.com:587" || len(gotTo) != 1 || gotTo[0] != "demo@company.com" {
		t.Fatalf("unexpected envelope: addr=%s to=%v", gotAddr, gotTo)
	}
	if gotAuth == nil {
		t.Fatalf("expected plain auth when username is set")
	}
	if !strings.Contains(gotMsg, "Subject: Credit Request REQ001\r\n") {
		t.Fatalf("subject not sanitized: %q", gotMsg)
	}
	if !strings.HasSuffix(gotMsg, "line one\r\nline two") {
		t.Fatalf("body not CRLF normalized: %q", gotMsg)
	}
}

func TestSMTPMailerWrapsError(t *testing.T) {
	m := NewSMTPMailer("localhost:25", "a@example.com", "", "")
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }
	err := m.Send(context.Background(), Message{To: "b@example.com"})
	if err == nil || !strings.Contains(err.Error(), "b@example.com") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestLogMailer(t *testing.T) {
	if err := (LogMailer{}).Send(context.Background(), Message{To: "x@example.com"}); err != nil {
		t.Fatalf("log mailer: %v", err)
	}
}
